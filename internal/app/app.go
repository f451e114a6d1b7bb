// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires together all plugins.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/isadetaseek/andrea/internal/apperror"
	"github.com/isadetaseek/andrea/internal/config"
	"github.com/isadetaseek/andrea/internal/middleware"
	"github.com/isadetaseek/andrea/internal/plugins/accounts"
	"github.com/isadetaseek/andrea/internal/plugins/billing"
	"github.com/isadetaseek/andrea/internal/plugins/chat"
	"github.com/isadetaseek/andrea/internal/plugins/gateway"
	"github.com/isadetaseek/andrea/internal/plugins/identity"
	"github.com/isadetaseek/andrea/internal/plugins/quota"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool. Nil when the store was unreachable
	// at startup and the server runs in the degraded guest-only mode.
	DB *sql.DB

	// Redis is the Redis client shared for sessions, guest counts, and
	// rate limiting.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Hub is the WebSocket notification gateway.
	Hub *gateway.Hub

	// Identities owns the per-visitor identity machines.
	Identities *identity.Registry

	// Chats owns the per-visitor chat controllers.
	Chats *chat.Registry

	accounts  *accounts.Handler
	provider  accounts.Provider
	chatH     *chat.Handler
	billingH  *billing.Handler
	gatewayH  *gateway.Handler
	stopSweep chan struct{}
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling. Pass a nil db
// to run without the account store: every visitor stays a guest, the local
// quota keeps being enforced, and auth-dependent endpoints answer 503.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) *App {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Critical for rate limiting the
	// auth and turn endpoints.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	app := &App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Echo:      e,
		stopSweep: make(chan struct{}),
	}

	app.setupMiddleware()
	app.setupPlugins()

	e.HTTPErrorHandler = app.errorHandler

	go app.sweepLoop()

	return app
}

// sweepLoop evicts per-visitor machines and chat controllers that have been
// idle past the configured TTL, so they do not accumulate forever. A
// signed-in visitor who comes back later is rehydrated from the session.
func (a *App) sweepLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := a.Chats.Sweep(a.Config.Chat.SessionIdleTTL); n > 0 {
				slog.Info("evicted idle chat sessions", slog.Int("count", n))
			}
		case <-a.stopSweep:
			return
		}
	}
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, innermost (visitor) last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- the widget may be embedded on a different origin than the API.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// CSRF -- double-submit cookie pattern on all state-changing requests.
	a.Echo.Use(middleware.CSRF())

	// Visitor cookie -- every request gets a stable visitor ID; the guest
	// quota, identity machine, and chat transcript are all keyed by it.
	a.Echo.Use(middleware.Visitor())
}

// setupPlugins builds the dependency graph: local store and counter first,
// then the identity registry, then everything that consumes them.
func (a *App) setupPlugins() {
	available := a.DB != nil

	var repo accounts.Repository
	if available {
		repo = accounts.NewRepository(a.DB)
	} else {
		repo = unavailableRepo{}
	}

	local := quota.NewRedisLocalStore(a.Redis)
	counter := quota.NewCounter(local, repo, a.Config.Quota.FreeLimit)

	a.Hub = gateway.NewHub()
	a.Identities = identity.NewRegistry(repo, counter, available)
	a.Identities.Subscribe(a.Hub)

	a.provider = accounts.NewProvider(repo, a.Redis, a.Config.Auth.SessionTTL)

	// Restore identity from the session cookie before any handler consults
	// the machine. Machines do not survive restarts; the session does.
	a.Echo.Use(accounts.RehydrateIdentity(a.provider, a.Identities))

	a.Chats = chat.NewRegistry(a.Identities, counter, chat.KeywordResponder, a.Config.Chat.ResponseLatency, a.Hub)
	billingSvc := billing.NewService(a.Identities, a.Hub, a.Config.Billing.PaymentDelay)

	a.accounts = accounts.NewHandler(a.provider, a.Identities)
	a.chatH = chat.NewHandler(a.Chats, a.Identities, counter)
	a.billingH = billing.NewHandler(billingSvc)

	a.gatewayH = gateway.NewHandler(a.Hub, a.Config.BaseURL)
	if !available {
		a.gatewayH.SetNotice(
			"El registro no está disponible por ahora. Puedes seguir chateando como invitado.",
			"warning",
		)
	}
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to JSON responses; this server has no browser-facing pages.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	} else {
		// Check for Echo's built-in HTTP errors (e.g., 404 from router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = http.StatusText(code)
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
	}

	_ = c.JSON(code, map[string]string{
		"error":   http.StatusText(code),
		"message": message,
	})
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting Andrea server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
		slog.Bool("accounts_available", a.DB != nil),
	)
	return a.Echo.Start(addr)
}

// Close tears down per-visitor state. Called after the HTTP server drains.
// Connected widgets get a restart notice before the hub drops them.
func (a *App) Close() {
	close(a.stopSweep)

	a.Hub.Broadcast(gateway.EventNotification, map[string]string{
		"message":  "El servicio se está reiniciando. Vuelve a conectarte en unos segundos.",
		"severity": "warning",
	})

	a.Chats.Close()
	a.Hub.Close()
}

// unavailableRepo stands in for the account repository when MariaDB never
// came up. Auth-dependent handlers check Registry.Available() and answer
// 503 before reaching it; these returns cover any path that slips through.
type unavailableRepo struct{}

var errStoreUnavailable = apperror.NewUnavailable("account store unavailable")

func (unavailableRepo) CreateAccount(ctx context.Context, acct *accounts.Account) error {
	return errStoreUnavailable
}

func (unavailableRepo) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return nil, errStoreUnavailable
}

func (unavailableRepo) FindByID(ctx context.Context, id string) (*accounts.Account, error) {
	return nil, errStoreUnavailable
}

func (unavailableRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	return false, errStoreUnavailable
}

func (unavailableRepo) CreateDocument(ctx context.Context, doc *accounts.AccountDocument) error {
	return errStoreUnavailable
}

func (unavailableRepo) GetDocument(ctx context.Context, accountID string) (*accounts.AccountDocument, error) {
	return nil, errStoreUnavailable
}

func (unavailableRepo) EnsureDocument(ctx context.Context, accountID, email string) (bool, error) {
	return false, errStoreUnavailable
}

func (unavailableRepo) TouchLastLogin(ctx context.Context, accountID string) error {
	return errStoreUnavailable
}

func (unavailableRepo) SetPremium(ctx context.Context, accountID, plan string) error {
	return errStoreUnavailable
}

func (unavailableRepo) ConversationCount(ctx context.Context, accountID string) (int, error) {
	return 0, errStoreUnavailable
}

func (unavailableRepo) IncrementConversations(ctx context.Context, accountID string, delta int) error {
	return errStoreUnavailable
}
