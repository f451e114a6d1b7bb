package billing

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the billing endpoints. The plan catalog is public;
// the upgrade itself requires a signed-in session, enforced by the auth
// middleware handed in from the application wiring.
func RegisterRoutes(e *echo.Echo, h *Handler, requireAuth echo.MiddlewareFunc) {
	g := e.Group("/api/v1/billing")

	g.GET("/plans", h.Plans)
	g.POST("/upgrade", h.Upgrade, requireAuth)
}
