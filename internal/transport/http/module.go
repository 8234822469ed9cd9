package http

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/pharmadesk/internal/access"
	"github.com/Additional-Code/pharmadesk/internal/config"
	authtransport "github.com/Additional-Code/pharmadesk/internal/transport/http/auth"
	"github.com/Additional-Code/pharmadesk/internal/transport/http/middleware"
	ordertransport "github.com/Additional-Code/pharmadesk/internal/transport/http/order"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	fx.Provide(NewAPIGroup),
	authtransport.Module,
	ordertransport.Module,
)

// NewAPIGroup mounts /api with per-request role resolution.
func NewAPIGroup(e *echo.Echo, cfg config.Config) *echo.Group {
	fallback := access.ParseRole(cfg.Access.DefaultRole, access.RoleJPMC)
	return e.Group("/api", middleware.Role(fallback))
}
