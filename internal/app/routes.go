package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/plugins/accounts"
	"github.com/isadetaseek/andrea/internal/plugins/billing"
	"github.com/isadetaseek/andrea/internal/plugins/chat"
	"github.com/isadetaseek/andrea/internal/plugins/gateway"
)

// RegisterRoutes sets up all application routes by delegating to each
// plugin's route registration.
func (a *App) RegisterRoutes() {
	e := a.Echo

	e.GET("/healthz", a.healthz)

	accounts.RegisterRoutes(e, a.accounts)
	chat.RegisterRoutes(e, a.chatH)
	billing.RegisterRoutes(e, a.billingH, accounts.RequireAuth(a.provider))
	gateway.RegisterRoutes(e, a.gatewayH)
}

// healthz reports liveness plus the state of both backing stores. The server
// answers 200 even when MariaDB is down because guest chat still works; the
// body carries the degraded flag so monitoring can alert on it.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	dbStatus := "unavailable"
	if a.DB != nil {
		dbStatus = "ok"
		if err := a.DB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}
	}

	redisStatus := "ok"
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		redisStatus = "error"
	}

	status := "ok"
	if dbStatus != "ok" {
		status = "degraded"
	}
	if redisStatus != "ok" {
		status = "error"
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"redis":    redisStatus,
	})
}
