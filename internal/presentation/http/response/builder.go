package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Additional-Code/pharmadesk/pkg/errorbank"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Kind    errorbank.Kind `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Builder assembles an Envelope for one request.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

// New instantiates a Builder for the provided request context.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithList attaches a list payload and records its length as meta.count.
func (b *Builder) WithList(items any, count int) *Builder {
	return b.WithData(items).WithMeta("count", count)
}

// WithError records an error to be rendered.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta appends auxiliary metadata to the response.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// Build writes the envelope.
func (b *Builder) Build() error {
	if b.err == nil {
		return b.ctx.JSON(b.status, Envelope{Success: true, Data: b.data, Meta: b.meta})
	}

	appErr, status := classify(b.err)
	if b.status >= http.StatusBadRequest {
		status = b.status
	}
	return b.ctx.JSON(status, Envelope{
		Meta: b.meta,
		Error: &ErrorBody{
			Kind:    appErr.Kind(),
			Message: appErr.Message(),
			Details: appErr.Details(),
		},
	})
}

// classify resolves err to an AppError and status. Echo's own errors (unknown
// route, bad bind, oversized body) keep their status.
func classify(err error) (*errorbank.AppError, int) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = fmt.Sprint(he.Message)
		}
		return errorbank.New(errorbank.KindForStatus(he.Code), msg, errorbank.WithCause(err)), he.Code
	}
	appErr := errorbank.From(err)
	return appErr, appErr.StatusCode()
}

// ErrorHandler renders errors that escape handlers, such as router misses,
// in the same envelope. Server-side failures are logged.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		if _, status := classify(err); status >= http.StatusInternalServerError {
			logger.Error("http request failed", zap.Error(err), zap.String("path", c.Path()))
		}
		if werr := New(c).WithError(err).Build(); werr != nil {
			logger.Warn("failed to write error response", zap.Error(werr))
		}
	}
}
