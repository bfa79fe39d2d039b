package realtime

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/honeykyc/gateway/internal/audit"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxMessage   = 64 * 1024
)

// expectedClose are close codes for an ordinary disconnect.
var expectedClose = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser operator tools
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// Subscription filters what an operator receives. Operators replace it by
// sending one as a JSON text message.
type Subscription struct {
	AllEvents   bool           `json:"all_events"`
	EventTypes  []EventType    `json:"event_types"`
	SessionIDs  []string       `json:"session_ids"`
	MinSeverity audit.Severity `json:"min_severity"` // suspicious_activity only
}

// Matches reports whether ev passes every filter in s. Empty filters pass;
// events without a session pass the session filter.
func (s Subscription) Matches(ev *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, ev.Type) {
		return false
	}
	if len(s.SessionIDs) > 0 && ev.SessionID != "" && !slices.Contains(s.SessionIDs, ev.SessionID) {
		return false
	}
	if s.MinSeverity != "" && ev.Type == EventSuspiciousActivity && ev.Severity.Rank() < s.MinSeverity.Rank() {
		return false
	}
	return true
}

// client is one operator connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sub Subscription
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, queueSize),
		sub:  Subscription{AllEvents: true},
	}
}

func (c *client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

func (c *client) subscribe(s Subscription) {
	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()
}

// readPump applies subscription messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, expectedClose...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		var s Subscription
		if err := json.Unmarshal(msg, &s); err != nil {
			c.hub.logger.Debug("ignoring malformed subscription", "error", err)
			continue
		}
		c.subscribe(s)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// A closed queue means the hub dropped this client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
