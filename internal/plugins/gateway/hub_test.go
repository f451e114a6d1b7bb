package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

// newTestServer stands up an Echo server with the gateway mounted and a
// fixed visitor ID injected for every request.
func newTestServer(t *testing.T, hub *Hub, visitorID string) *httptest.Server {
	t.Helper()

	e := echo.New()
	h := NewHandler(hub, "")
	e.GET("/ws", func(c echo.Context) error {
		c.Set("visitor_id", visitorID)
		return h.Serve(c)
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshaling event: %v", err)
	}
	return ev
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
}

func TestHub_PublishReachesVisitor(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	srv := newTestServer(t, hub, "visitor-1")

	conn := dial(t, srv)
	if ev := readEvent(t, conn); ev.Event != EventWelcome {
		t.Fatalf("expected welcome event, got %s", ev.Event)
	}

	hub.Publish("visitor-1", "quota.changed", map[string]int{"count": 2})

	ev := readEvent(t, conn)
	if ev.Event != "quota.changed" {
		t.Errorf("expected quota.changed, got %s", ev.Event)
	}
}

func TestHub_PublishIsTargeted(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	srvA := newTestServer(t, hub, "visitor-a")
	srvB := newTestServer(t, hub, "visitor-b")

	connA := dial(t, srvA)
	connB := dial(t, srvB)
	readEvent(t, connA) // welcome
	readEvent(t, connB) // welcome

	hub.Publish("visitor-a", "turn.completed", nil)

	if ev := readEvent(t, connA); ev.Event != "turn.completed" {
		t.Errorf("expected turn.completed for visitor-a, got %s", ev.Event)
	}

	// visitor-b must not see visitor-a's event.
	_ = connB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Error("expected no event for visitor-b")
	}
}

func TestHub_BroadcastReachesEveryone(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)

	srvA := newTestServer(t, hub, "visitor-a")
	srvB := newTestServer(t, hub, "visitor-b")

	connA := dial(t, srvA)
	connB := dial(t, srvB)
	readEvent(t, connA)
	readEvent(t, connB)
	waitForClients(t, hub, 2)

	hub.Broadcast("notification", map[string]string{"message": "degraded", "severity": "warning"})

	if ev := readEvent(t, connA); ev.Event != "notification" {
		t.Errorf("expected notification for visitor-a, got %s", ev.Event)
	}
	if ev := readEvent(t, connB); ev.Event != "notification" {
		t.Errorf("expected notification for visitor-b, got %s", ev.Event)
	}
}

func TestHub_IdentityObserver(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	srv := newTestServer(t, hub, "visitor-1")

	conn := dial(t, srv)
	readEvent(t, conn) // welcome

	hub.IdentityChanged("visitor-1", identity.Change{
		From: identity.StateGuest,
		To:   identity.StateRegistered,
		Identity: identity.Identity{
			State:     identity.StateRegistered,
			AccountID: "acct-1",
			Email:     "a@b.com",
		},
	})

	ev := readEvent(t, conn)
	if ev.Event != EventIdentityChanged {
		t.Fatalf("expected identity.changed, got %s", ev.Event)
	}
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload type %T", ev.Payload)
	}
	if payload["from"] != "guest" || payload["to"] != "registered" {
		t.Errorf("unexpected transition payload: %v", payload)
	}
}

func TestHub_DisconnectPrunesClient(t *testing.T) {
	hub := NewHub()
	t.Cleanup(hub.Close)
	srv := newTestServer(t, hub, "visitor-1")

	conn := dial(t, srv)
	readEvent(t, conn)
	waitForClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	waitForClients(t, hub, 0)

	// Publishing to a gone visitor must be a no-op.
	hub.Publish("visitor-1", "typing", nil)
}

func TestHub_ConcurrentPublishToFullOutbox(t *testing.T) {
	hub := NewHub()

	// A client whose pump never drains: the outbox fills and every further
	// publish takes the drop path, which unregisters the client. Concurrent
	// publishers must be able to race that removal without panicking on the
	// send channel.
	cl := &client{
		hub:       hub,
		send:      make(chan []byte, 1),
		done:      make(chan struct{}),
		visitorID: "visitor-1",
	}
	if !hub.add(cl) {
		t.Fatal("expected add to succeed")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Publish("visitor-1", "typing", nil)
			}
		}()
	}
	wg.Wait()

	select {
	case <-cl.done:
	default:
		t.Error("expected the stalled client to be dropped")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	// Removing again must be a no-op, not a second close.
	hub.remove(cl)
}

func TestHub_RejectsAfterClose(t *testing.T) {
	hub := NewHub()
	hub.Close()

	if ok := hub.add(&client{visitorID: "visitor-1", send: make(chan []byte, 1)}); ok {
		t.Error("expected add to fail after close")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}
