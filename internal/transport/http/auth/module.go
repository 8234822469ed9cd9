package auth

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// Module wires HTTP auth handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(api *echo.Group, h *Handler) {
		Register(api, h)
	}),
)
