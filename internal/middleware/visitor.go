package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// visitorCookieName identifies an unauthenticated browser across requests.
// The guest conversation quota is keyed by this value, mirroring the fixed
// local-storage key the widget uses client-side.
const visitorCookieName = "andrea_visitor"

// visitorContextKey is the Echo context key holding the visitor ID.
const visitorContextKey = "visitor_id"

// Visitor returns middleware that ensures every request carries a stable
// visitor ID. A new UUID cookie is issued on first contact; subsequent
// requests reuse it. Handlers read the ID via GetVisitorID.
func Visitor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(visitorCookieName)
			if err == nil && cookie.Value != "" {
				c.Set(visitorContextKey, cookie.Value)
				return next(c)
			}

			id := uuid.NewString()
			req := c.Request()
			c.SetCookie(&http.Cookie{
				Name:     visitorCookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
				SameSite: http.SameSiteLaxMode,
				MaxAge:   365 * 24 * 60 * 60, // 1 year in seconds
			})
			c.Set(visitorContextKey, id)
			return next(c)
		}
	}
}

// GetVisitorID returns the visitor ID injected by the Visitor middleware,
// or empty string if the middleware did not run.
func GetVisitorID(c echo.Context) string {
	id, _ := c.Get(visitorContextKey).(string)
	return id
}
