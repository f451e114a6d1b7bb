package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/middleware"
)

// Handler upgrades widget connections onto the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	notice   *noticePayload
}

// noticePayload is a persistent notification pushed to each new connection.
type noticePayload struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// NewHandler creates a gateway handler. allowedOrigin is the widget's base
// URL; empty means same-origin only is not enforced (development).
func NewHandler(hub *Hub, allowedOrigin string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || strings.EqualFold(origin, allowedOrigin)
			},
		},
	}
}

// Serve handles the WebSocket upgrade (GET /ws). The connection is bound to
// the caller's visitor cookie so targeted publishes reach it.
func (h *Handler) Serve(c echo.Context) error {
	visitorID := middleware.GetVisitorID(c)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			slog.String("visitor_id", visitorID),
			slog.Any("error", err),
		)
		return nil
	}

	cl := &client{
		hub:       h.hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		visitorID: visitorID,
	}
	if !h.hub.add(cl) {
		_ = conn.Close()
		return nil
	}

	slog.Debug("gateway client connected", slog.String("visitor_id", visitorID))

	go cl.writePump()
	go cl.readPump()

	h.hub.Publish(visitorID, EventWelcome, map[string]string{"message": "connected"})
	if h.notice != nil {
		h.hub.Publish(visitorID, EventNotification, h.notice)
	}
	return nil
}

// SetNotice configures a persistent notification shown once to every new
// connection. Used for the degraded-mode notice when the account store is
// down at startup.
func (h *Handler) SetNotice(message, severity string) {
	h.notice = &noticePayload{Message: message, Severity: severity}
}

// RegisterRoutes sets up the gateway endpoint.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/ws", h.Serve)
}
