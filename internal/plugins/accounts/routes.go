package accounts

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/middleware"
)

// RegisterRoutes sets up the auth endpoints on the given Echo instance.
// All routes are public (no session required) -- RequireAuth is exported
// separately for other plugins to use on their route groups.
//
// POST endpoints are rate-limited to prevent brute-force and credential
// stuffing attacks: 10 attempts per IP per minute for login, 5 for register.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/v1/auth")

	g.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	g.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
}
