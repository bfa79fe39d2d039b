// Package webhooks delivers operator alerts to an external endpoint.
//
// High and critical suspicious-activity records are posted as signed JSON:
//   - X-HoneyKYC-Event: the event type
//   - X-HoneyKYC-Timestamp: unix seconds
//   - X-HoneyKYC-Signature: sha256=<hex HMAC-SHA256 of the body>
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/circuitbreaker"
	"github.com/honeykyc/gateway/internal/idgen"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/retry"
	"github.com/honeykyc/gateway/internal/security"
)

const (
	HeaderEvent     = "X-HoneyKYC-Event"
	HeaderTimestamp = "X-HoneyKYC-Timestamp"
	HeaderSignature = "X-HoneyKYC-Signature"
)

// EventType represents the type of alert event
type EventType string

const (
	EventSuspiciousHigh     EventType = "suspicious_activity.high"
	EventSuspiciousCritical EventType = "suspicious_activity.critical"
)

// Event is the delivered body.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Data      *audit.Record `json:"data"`
}

// Config configures a Notifier.
type Config struct {
	URL          string
	Secret       string
	AllowPrivate bool // permit loopback/private targets (local development)
	QueueSize    int
	Retry        retry.Policy
}

// DefaultRetry backs off well beyond request-path lookups; delivery is async.
var DefaultRetry = retry.Policy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Notifier is an audit.Sink that queues alerts and delivers them from Run.
type Notifier struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	queue   chan *Event
	logger  *slog.Logger
	now     func() time.Time
}

// NewNotifier validates the target and creates a notifier.
func NewNotifier(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if err := security.ValidateEndpointURL(cfg.URL, cfg.AllowPrivate); err != nil {
		return nil, fmt.Errorf("alert webhook URL: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetry
	}
	return &Notifier{
		url:     cfg.URL,
		secret:  cfg.Secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New("alert_webhook", 5, 30*time.Second),
		policy:  cfg.Retry,
		queue:   make(chan *Event, cfg.QueueSize),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Notify implements audit.Sink. Records below high severity are ignored; a
// full queue drops the alert.
func (n *Notifier) Notify(_ context.Context, r *audit.Record) {
	var typ EventType
	switch r.Severity {
	case audit.SeverityHigh:
		typ = EventSuspiciousHigh
	case audit.SeverityCritical:
		typ = EventSuspiciousCritical
	default:
		return
	}
	ev := &Event{ID: idgen.WithPrefix("evt_"), Type: typ, Timestamp: n.now(), Data: r}
	select {
	case n.queue <- ev:
	default:
		metrics.AlertDeliveriesTotal.WithLabelValues("dropped").Inc()
		n.logger.Warn("alert queue full, dropping alert", "record_id", r.ID)
	}
}

// Run delivers queued alerts until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	n.logger.Info("alert notifier started", "url", redact(n.url))
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("alert notifier stopped", "pending", len(n.queue))
			return
		case ev := <-n.queue:
			if err := n.Deliver(ctx, ev); err != nil {
				n.logger.Warn("alert delivery failed", "event_id", ev.ID, "error", err)
			}
		}
	}
}

// Deliver posts ev with retries behind the breaker.
func (n *Notifier) Deliver(ctx context.Context, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.AlertDeliveriesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = retry.Do(ctx, n.policy, func(ctx context.Context) error {
		err := n.breaker.Do(func() error { return n.send(ctx, ev, payload) })
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.AlertDeliveriesTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.AlertDeliveriesTotal.WithLabelValues("delivered").Inc()
	return nil
}

func (n *Notifier) send(ctx context.Context, ev *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ev.Timestamp.Unix(), 10))
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature header in constant time.
func VerifySignature(payload []byte, secret, header string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(header))
}

// redact hides query strings, which often carry tokens.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?…"
	}
	return u
}
