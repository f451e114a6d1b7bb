package chat

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/middleware"
)

// RegisterRoutes sets up the chat endpoints. All of them work for guests;
// the per-identity entitlement rules live in the controller, not here.
//
// Turn submission is rate-limited per IP well above the free quota so the
// limiter never masks the entitlement denial.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/v1/chat")

	g.POST("/turns", h.SubmitTurn, middleware.RateLimit(30, time.Minute))
	g.GET("/transcript", h.Transcript)
	g.POST("/clear", h.Clear)
	g.GET("/export", h.Export)

	e.GET("/api/v1/quota", h.Quota)
}
