package accounts

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/middleware"
	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

// Context keys for storing session data in Echo context. Other plugins
// use these keys (via the exported getter functions below) to access
// the signed-in account's information.
const (
	contextKeySession   = "accounts_session"
	contextKeyAccountID = "accounts_account_id"
)

// RequireAuth returns middleware that validates the session cookie and
// injects session data into the request context. Requests without a valid
// session get a 401 JSON response.
func RequireAuth(provider Provider) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := getSessionToken(c)
			if token == "" {
				return handleUnauthenticated(c)
			}

			session, err := provider.ValidateSession(c.Request().Context(), token)
			if err != nil {
				// Invalid or expired session -- clear the stale cookie.
				clearSessionCookie(c)
				return handleUnauthenticated(c)
			}

			// Store session data in context for downstream handlers.
			c.Set(contextKeySession, session)
			c.Set(contextKeyAccountID, session.AccountID)

			return next(c)
		}
	}
}

// RehydrateIdentity returns middleware that restores the in-memory identity
// machine from the durable session cookie. Machines live in process memory:
// after a restart, a deploy, or on a second instance, a signed-in visitor
// would otherwise start over as a guest and be metered against the free
// limit. Runs on every request, before any handler consults the machine.
func RehydrateIdentity(provider Provider, registry *identity.Registry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !registry.Available() {
				return next(c)
			}

			machine := registry.Machine(middleware.GetVisitorID(c))
			if machine.Current().State != identity.StateGuest {
				return next(c)
			}

			token := getSessionToken(c)
			if token == "" {
				return next(c)
			}

			session, err := provider.ValidateSession(c.Request().Context(), token)
			if err != nil {
				// Expired or unknown token. The visitor proceeds as a guest;
				// authenticated endpoints clear the stale cookie themselves.
				return next(c)
			}

			// Same path as a fresh sign-in: bootstraps the document and
			// restores the premium flag.
			if err := machine.LoginSucceeded(c.Request().Context(), session.AccountID, session.Email); err != nil {
				slog.Warn("identity rehydration failed",
					slog.String("account_id", session.AccountID),
					slog.Any("error", err),
				)
			}

			return next(c)
		}
	}
}

// handleUnauthenticated returns a 401 JSON response. The widget is the only
// client, so there is no browser redirect path.
func handleUnauthenticated(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{
		Code:    string(CodeRequiresRecentLogin),
		Message: CodeRequiresRecentLogin.Message(),
	})
}

// --- Exported getters for other plugins ---

// GetSession retrieves the authenticated session from the Echo context.
// Returns nil if the request is not authenticated (middleware not applied).
func GetSession(c echo.Context) *Session {
	session, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return session
}

// GetAccountID retrieves the signed-in account's ID from the Echo context.
// Returns empty string if the request is not authenticated.
func GetAccountID(c echo.Context) string {
	id, ok := c.Get(contextKeyAccountID).(string)
	if !ok {
		return ""
	}
	return id
}
