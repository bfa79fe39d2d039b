// Package realtime streams fraud activity to operator dashboards over
// WebSocket: suspicious-activity records, routing decisions and wallet
// transactions as they happen.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/session"
)

// EventType names a feed message.
type EventType string

const (
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventRouteDecided       EventType = "route_decided"
	EventTransaction        EventType = "transaction"
	EventSessionEnded       EventType = "session_ended"
)

// Event is one message on the feed.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	Severity  audit.Severity `json:"severity,omitempty"`
	Data      any            `json:"data"`
}

// MaxClients caps concurrent operator connections.
const MaxClients = 1000

const queueSize = 256

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connected   int   `json:"connected"`
	Peak        int64 `json:"peak"`
	TotalEvents int64 `json:"total_events"`
	TotalJoins  int64 `json:"total_joins"`
}

// Hub fans events out to connected operators. All membership changes go
// through Run's loop; publishers never block.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	members map[*client]struct{}

	events chan *Event
	join   chan *client
	leave  chan *client
	done   chan struct{}

	maxClients int
	eventCount atomic.Int64
	joins      atomic.Int64
	peak       atomic.Int64
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		members:    make(map[*client]struct{}),
		events:     make(chan *Event, queueSize),
		join:       make(chan *client),
		leave:      make(chan *client),
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run delivers events until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("realtime hub stopped")
			return
		case c := <-h.join:
			h.add(c)
		case c := <-h.leave:
			h.remove(c)
		case ev := <-h.events:
			h.fanout(ev)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.members[c] = struct{}{}
	n := len(h.members)
	h.mu.Unlock()

	h.joins.Add(1)
	if int64(n) > h.peak.Load() {
		h.peak.Store(int64(n))
	}
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("operator connected", "total", n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.drop(c)
	n := len(h.members)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("operator disconnected", "total", n)
}

// drop closes c's queue once. Callers hold h.mu.
func (h *Hub) drop(c *client) {
	if _, ok := h.members[c]; ok {
		delete(h.members, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.members {
		h.drop(c)
	}
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(0)
}

// fanout queues ev for every matching member. Members whose queue is full
// are disconnected rather than allowed to stall the feed.
func (h *Hub) fanout(ev *Event) {
	h.eventCount.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}

	var lagging []*client
	h.mu.RLock()
	for c := range h.members {
		if !c.subscription().Matches(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	if len(lagging) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range lagging {
		h.drop(c)
	}
	n := len(h.members)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("disconnected lagging operators", "count", len(lagging))
}

// Broadcast queues ev for delivery. Events are dropped when the queue is full.
func (h *Hub) Broadcast(ev *Event) {
	select {
	case h.events <- ev:
	default:
		h.logger.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

// Notify implements audit.Sink.
func (h *Hub) Notify(_ context.Context, r *audit.Record) {
	h.Broadcast(&Event{
		Type:      EventSuspiciousActivity,
		Timestamp: r.CreatedAt,
		SessionID: r.SessionID,
		Severity:  r.Severity,
		Data:      r,
	})
}

// RouteDecided publishes a committed routing decision.
func (h *Hub) RouteDecided(_ context.Context, s *session.Session) {
	ts := time.Now()
	if s.RoutedAt != nil {
		ts = *s.RoutedAt
	}
	h.Broadcast(&Event{
		Type:      EventRouteDecided,
		Timestamp: ts,
		SessionID: s.ID,
		Data: map[string]any{
			"session_id":   s.ID,
			"user_name":    s.ClaimedName,
			"route":        s.Route,
			"risk_score":   s.RiskScore,
			"risk_level":   s.RiskLevel,
			"risk_factors": s.RiskFactors,
		},
	})
}

// SessionEnded publishes a session archive; register it as a session end hook.
func (h *Hub) SessionEnded(_ context.Context, s *session.Session) {
	h.Broadcast(&Event{
		Type:      EventSessionEnded,
		Timestamp: time.Now(),
		SessionID: s.ID,
		Data:      map[string]any{"session_id": s.ID, "status": s.Status, "route": s.Route},
	})
}

// BroadcastTransaction publishes a wallet operation.
func (h *Hub) BroadcastTransaction(sessionID string, tx any) {
	h.Broadcast(&Event{
		Type:      EventTransaction,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Data:      tx,
	})
}

// Stats returns current connection and event counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.members)
	h.mu.RUnlock()
	return Stats{
		Connected:   n,
		Peak:        h.peak.Load(),
		TotalEvents: h.eventCount.Load(),
		TotalJoins:  h.joins.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches an operator that
// receives every event until it sends a narrower Subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Stats().Connected >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn)
	select {
	case h.join <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
