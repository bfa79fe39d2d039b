package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/session"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func attach(h *Hub, sub Subscription) *client {
	c := &client{hub: h, send: make(chan []byte, queueSize), sub: sub}
	h.join <- c
	return c
}

func receive(t *testing.T, c *client) Event {
	t.Helper()
	select {
	case msg := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------------------------------------------------------------------------
// Subscription filters
// ---------------------------------------------------------------------------

func TestSubscription_Matches(t *testing.T) {
	trap := &Event{Type: EventSuspiciousActivity, SessionID: "sess_a", Severity: audit.SeverityCritical}
	transfer := &Event{Type: EventSuspiciousActivity, SessionID: "sess_b", Severity: audit.SeverityMedium}
	route := &Event{Type: EventRouteDecided, SessionID: "sess_a"}
	tx := &Event{Type: EventTransaction}

	tests := []struct {
		name string
		sub  Subscription
		ev   *Event
		want bool
	}{
		{"all events", Subscription{AllEvents: true, EventTypes: []EventType{EventRouteDecided}}, tx, true},
		{"empty subscription", Subscription{}, tx, true},
		{"type filter hit", Subscription{EventTypes: []EventType{EventRouteDecided}}, route, true},
		{"type filter miss", Subscription{EventTypes: []EventType{EventRouteDecided}}, trap, false},
		{"session filter hit", Subscription{SessionIDs: []string{"sess_a"}}, route, true},
		{"session filter miss", Subscription{SessionIDs: []string{"sess_a"}}, transfer, false},
		{"no session passes session filter", Subscription{SessionIDs: []string{"sess_a"}}, tx, true},
		{"severity above floor", Subscription{MinSeverity: audit.SeverityHigh}, trap, true},
		{"severity below floor", Subscription{MinSeverity: audit.SeverityHigh}, transfer, false},
		{"severity ignores other types", Subscription{MinSeverity: audit.SeverityHigh}, route, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(tt.ev))
		})
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle
// ---------------------------------------------------------------------------

func TestHub_StatsInitial(t *testing.T) {
	assert.Equal(t, Stats{}, testHub().Stats())
}

func TestHub_JoinLeave(t *testing.T) {
	h := runHub(t)

	c := attach(h, Subscription{AllEvents: true})
	waitFor(t, func() bool { return h.Stats().Connected == 1 })

	h.leave <- c
	waitFor(t, func() bool { return h.Stats().Connected == 0 })

	st := h.Stats()
	assert.Equal(t, int64(1), st.Peak)
	assert.Equal(t, int64(1), st.TotalJoins)
	_, open := <-c.send
	assert.False(t, open, "queue is closed on leave")
}

func TestHub_NotifyPublishesSuspiciousActivity(t *testing.T) {
	h := runHub(t)
	c := attach(h, Subscription{AllEvents: true})

	var sink audit.Sink = h
	sink.Notify(context.Background(), &audit.Record{
		ID:        "sar_1",
		SessionID: "sess_1",
		Reason:    audit.ReasonHiddenTrap,
		Severity:  audit.SeverityCritical,
		CreatedAt: time.Now(),
	})

	ev := receive(t, c)
	assert.Equal(t, EventSuspiciousActivity, ev.Type)
	assert.Equal(t, "sess_1", ev.SessionID)
	assert.Equal(t, audit.SeverityCritical, ev.Severity)
}

func TestHub_FiltersPerOperator(t *testing.T) {
	h := runHub(t)
	routes := attach(h, Subscription{EventTypes: []EventType{EventRouteDecided}})

	h.BroadcastTransaction("sess_1", map[string]any{"amount": "100.00"})
	h.RouteDecided(context.Background(), &session.Session{ID: "sess_1", Route: session.RouteHoneypot, RiskScore: 65, RiskLevel: "HIGH"})

	ev := receive(t, routes)
	require.Equal(t, EventRouteDecided, ev.Type, "transaction is filtered out")
	data := ev.Data.(map[string]any)
	assert.Equal(t, "HONEYPOT", data["route"])
	assert.Equal(t, float64(65), data["risk_score"])
}

func TestHub_DropsLaggingOperator(t *testing.T) {
	h := runHub(t)
	slow := &client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.join <- slow

	for i := 0; i < 3; i++ {
		h.BroadcastTransaction("sess_1", i)
	}
	waitFor(t, func() bool { return h.Stats().Connected == 0 })
	assert.GreaterOrEqual(t, h.Stats().TotalEvents, int64(2))
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	c := attach(h, Subscription{})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
	_, open := <-c.send
	assert.False(t, open)
}

func TestHub_RejectsAfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/api/admin/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ---------------------------------------------------------------------------
// WebSocket end to end
// ---------------------------------------------------------------------------

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	waitFor(t, func() bool { return h.Stats().Connected == 1 })
	return conn
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := runHub(t)
	conn := dial(t, h)

	h.SessionEnded(context.Background(), &session.Session{ID: "sess_9", Status: session.StatusLoggedOut})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventSessionEnded, ev.Type)
	assert.Equal(t, "sess_9", ev.SessionID)
}

func TestHub_WebSocketSubscriptionUpdate(t *testing.T) {
	h := runHub(t)
	conn := dial(t, h)

	require.NoError(t, conn.WriteJSON(Subscription{MinSeverity: audit.SeverityCritical}))
	// Give the read pump a moment to apply the subscription.
	time.Sleep(50 * time.Millisecond)

	h.Notify(context.Background(), &audit.Record{SessionID: "sess_1", Severity: audit.SeverityMedium, CreatedAt: time.Now()})
	h.Notify(context.Background(), &audit.Record{SessionID: "sess_2", Severity: audit.SeverityCritical, CreatedAt: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "sess_2", ev.SessionID, "medium record is filtered out")
}
