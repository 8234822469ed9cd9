package http

import "github.com/go-playground/validator/v10"

// requestValidator adapts go-playground/validator to echo.Validator so
// handlers can call c.Validate on bound payloads.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}
