package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/pharmadesk/internal/access"
)

// HeaderRole carries the caller's tenant role.
const HeaderRole = "X-User-Role"

// Role resolves the caller's role once per request, from the X-User-Role
// header, then the role query parameter, then fallback, and stores it in the
// request context. Unrecognised values resolve to access.RoleUnknown.
func Role(fallback access.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(HeaderRole)
			if raw == "" {
				raw = c.QueryParam("role")
			}
			role := access.ParseRole(raw, fallback)

			req := c.Request()
			c.SetRequest(req.WithContext(access.WithRole(req.Context(), role)))
			return next(c)
		}
	}
}
