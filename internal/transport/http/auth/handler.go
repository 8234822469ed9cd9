package auth

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"

	"github.com/Additional-Code/pharmadesk/internal/presentation/http/response"
	service "github.com/Additional-Code/pharmadesk/internal/service/auth"
	"github.com/Additional-Code/pharmadesk/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/pharmadesk/transport/http/auth")

// Handler exposes the login endpoint.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an auth Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the /api group. /login is kept for older dashboards.
func Register(api *echo.Group, h *Handler) {
	api.POST("/auth/login", h.login)
	api.POST("/login", h.login)
}

type loginPayload struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(c echo.Context) error {
	b := response.New(c)

	var payload loginPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if err := c.Validate(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("username and password are required", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "auth.login")
	defer span.End()

	session, err := h.svc.Login(ctx, payload.Username, payload.Password)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(session).Build()
}
