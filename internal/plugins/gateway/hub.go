// Package gateway pushes core events to connected widgets over WebSocket.
// It is a one-way surface: turn outcomes, identity transitions, quota
// changes, and notifications flow out; nothing but ping traffic flows in.
package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBufferSize bounds the per-connection outbox. A connection that
	// cannot drain it is dropped rather than allowed to stall publishers.
	sendBufferSize = 64
)

// Event is the wire format for every gateway message.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Event names originated by the gateway itself. Chat and billing events are
// named by their packages.
const (
	EventIdentityChanged = "identity.changed"
	EventNotification    = "notification"
	EventWelcome         = "welcome"
)

// client is one WebSocket connection belonging to one visitor. A visitor
// with several tabs has several clients.
//
// send is never closed: publishers may race a disconnect, and a send on a
// closed channel panics. Teardown is signalled through done instead, which
// only the hub closes, exactly once, while the client is still in its map.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	visitorID string
}

// Hub tracks connections per visitor and fans events out to them. It
// implements the event sinks the chat controller and billing service expect,
// and observes the identity registry directly.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]bool
	closed  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]bool)}
}

// Publish sends an event to every connection the visitor has open. A
// connection with a full outbox is dropped.
func (h *Hub) Publish(visitorID, event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		slog.Error("marshaling gateway event",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[visitorID]))
	for c := range h.clients[visitorID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- data:
		default:
			slog.Warn("gateway client outbox full, dropping connection",
				slog.String("visitor_id", visitorID),
			)
			h.remove(c)
		}
	}
}

// Broadcast sends an event to every connected visitor. Used for fleet-wide
// notices such as the shutdown warning.
func (h *Hub) Broadcast(event string, payload any) {
	h.mu.RLock()
	visitors := make([]string, 0, len(h.clients))
	for visitorID := range h.clients {
		visitors = append(visitors, visitorID)
	}
	h.mu.RUnlock()

	for _, visitorID := range visitors {
		h.Publish(visitorID, event, payload)
	}
}

// IdentityChanged implements identity.Observer: every machine transition is
// pushed to the visitor it belongs to.
func (h *Hub) IdentityChanged(visitorID string, change identity.Change) {
	h.Publish(visitorID, EventIdentityChanged, map[string]any{
		"from":     change.From.String(),
		"to":       change.To.String(),
		"identity": change.Identity,
	})
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// Close drops every connection. Used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, conns := range h.clients {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*client]bool)
	h.mu.Unlock()

	for _, c := range all {
		close(c.done)
	}
}

// add registers a connection for a visitor.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	if h.clients[c.visitorID] == nil {
		h.clients[c.visitorID] = make(map[*client]bool)
	}
	h.clients[c.visitorID][c] = true
	return true
}

// remove unregisters a connection and signals its write pump. The membership
// check makes the done close single-shot even when a publish and a read error
// race to remove the same client.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.clients[c.visitorID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.visitorID)
	}
	close(c.done)
}

// readPump drains incoming frames. The widget sends nothing meaningful, but
// reading is required to process pongs and detect closure.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway read error",
					slog.String("visitor_id", c.visitorID),
					slog.Any("error", err),
				)
			}
			return
		}
	}
}

// writePump flushes the outbox to the connection and keeps it alive with
// periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
