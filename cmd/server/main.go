// Andrea chat widget backend server.
//
// Startup order matters: config first, then logging, then the backing
// stores, then the app wiring. Redis is required (sessions, guest quota,
// rate limiting); MariaDB is not. If MariaDB is unreachable the server
// comes up anyway in a degraded mode where every visitor stays a guest.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isadetaseek/andrea/internal/app"
	"github.com/isadetaseek/andrea/internal/config"
	"github.com/isadetaseek/andrea/internal/database"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	setupLogging(cfg)

	db, err := database.NewMariaDB(cfg.Database)
	if err != nil {
		// Degraded mode: guest chat keeps working off Redis alone, the
		// auth and billing endpoints answer 503 until a restart.
		slog.Warn("mariadb unavailable, starting in guest-only mode",
			slog.Any("error", err),
		)
		db = nil
	} else {
		defer db.Close()

		if err := database.RunMigrations(db, "db/migrations"); err != nil {
			slog.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer rdb.Close()

	application := app.New(cfg, db, rdb)
	application.RegisterRoutes()

	// Graceful shutdown: drain in-flight requests, then drop per-visitor
	// state (pending reply timers, websocket connections).
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := application.Echo.Shutdown(ctx); err != nil {
			slog.Error("server shutdown failed", slog.Any("error", err))
		}
		application.Close()
	}()

	if err := application.Start(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// setupLogging configures the global slog logger. Development gets
// human-readable text output, production gets JSON for log aggregation.
func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
