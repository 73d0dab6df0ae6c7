package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SmokersTable/internal/events"
)

// newWSServer starts an HTTP test server and returns the ws:// URL of the
// event stream. The event buffer is cleared after the simulation is built.
func newWSServer(t *testing.T) string {
	t.Helper()
	srv, _ := newTestServer(t, Options{})
	events.Clear()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func TestWebSocketReceivesRecentEvents(t *testing.T) {
	url := newWSServer(t)

	for i := 0; i < 5; i++ {
		events.Emit("info", "supplier.placed", "", map[string]interface{}{"i": i})
	}

	conn := dial(t, url)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		e := readEvent(t, conn)
		if e.Name != "supplier.placed" {
			t.Errorf("expected 'supplier.placed', got '%s'", e.Name)
		}
	}
}

func TestWebSocketReceivesNewEvents(t *testing.T) {
	events.CloseAllSubscribers()
	url := newWSServer(t)
	conn := dial(t, url)
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")
	events.Emit("info", "smoker.finished", "", map[string]interface{}{"smoker_id": "tobacco"})

	e := readEvent(t, conn)
	if e.Name != "smoker.finished" {
		t.Errorf("expected 'smoker.finished', got '%s'", e.Name)
	}
	if e.Fields["smoker_id"] != "tobacco" {
		t.Errorf("expected smoker_id 'tobacco', got '%v'", e.Fields["smoker_id"])
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	events.CloseAllSubscribers()
	url := newWSServer(t)
	conn := dial(t, url)

	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")
	conn.Close()

	waitFor(t, 5*time.Second, func() bool {
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketMultipleClients(t *testing.T) {
	events.CloseAllSubscribers()
	url := newWSServer(t)

	conn1 := dial(t, url)
	defer conn1.Close()
	conn2 := dial(t, url)
	defer conn2.Close()

	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 2 }, "two subscriptions")
	events.Emit("info", "table.cleared", "", map[string]interface{}{"smoker_id": "paper"})

	if e := readEvent(t, conn1); e.Name != "table.cleared" {
		t.Errorf("client1: expected 'table.cleared', got '%s'", e.Name)
	}
	if e := readEvent(t, conn2); e.Name != "table.cleared" {
		t.Errorf("client2: expected 'table.cleared', got '%s'", e.Name)
	}
}

func TestWebSocketClosedOnShutdown(t *testing.T) {
	events.CloseAllSubscribers()
	url := newWSServer(t)
	conn := dial(t, url)
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")
	events.CloseAllSubscribers()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestWebSocketPrefixFilter(t *testing.T) {
	url := newWSServer(t)
	events.Emit("info", "supplier.placed", "", nil)
	events.Emit("info", "smoker.started", "", map[string]interface{}{"smoker_id": "paper"})

	conn := dial(t, url+"?prefix=smoker.")
	defer conn.Close()

	if e := readEvent(t, conn); e.Name != "smoker.started" {
		t.Errorf("expected backlog filtered to 'smoker.started', got '%s'", e.Name)
	}

	events.Emit("info", "table.cleared", "", nil)
	events.Emit("info", "smoker.finished", "", map[string]interface{}{"smoker_id": "paper"})
	if e := readEvent(t, conn); e.Name != "smoker.finished" {
		t.Errorf("expected 'smoker.finished', got '%s'", e.Name)
	}
}

func TestWebSocketSkipsBacklog(t *testing.T) {
	events.CloseAllSubscribers()
	url := newWSServer(t)
	events.Emit("info", "supplier.placed", "", nil)

	conn := dial(t, url+"?backlog=0")
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return events.SubscriberCount() == 1 }, "subscription")
	events.Emit("info", "table.cleared", "", nil)

	if e := readEvent(t, conn); e.Name != "table.cleared" {
		t.Errorf("expected only live events, got '%s'", e.Name)
	}
}

func TestBacklogSize(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultBacklog},
		{"backlog=5", 5},
		{"backlog=0", 0},
		{"backlog=-1", defaultBacklog},
		{"backlog=abc", defaultBacklog},
		{"backlog=100000", maxBacklog},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws/events?"+tt.query, nil)
		if got := backlogSize(r); got != tt.want {
			t.Errorf("backlogSize(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
