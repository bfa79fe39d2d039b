package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newTestNotifier(t *testing.T, url string) *Notifier {
	t.Helper()
	n, err := NewNotifier(Config{URL: url, Secret: "whsec", AllowPrivate: true, QueueSize: 4, Retry: fastRetry},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return n
}

func TestNewNotifier_RejectsUnsafeURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewNotifier(Config{URL: "http://127.0.0.1/hook"}, logger)
	assert.Error(t, err)
	_, err = NewNotifier(Config{URL: "ftp://example.com"}, logger)
	assert.Error(t, err)
}

func TestDeliver_SignsPayload(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL)
	ev := &Event{ID: "evt_1", Type: EventSuspiciousCritical, Timestamp: time.Unix(1700000000, 0),
		Data: &audit.Record{ID: "sar_1", Reason: audit.ReasonHiddenTrap, Severity: audit.SeverityCritical}}
	require.NoError(t, n.Deliver(context.Background(), ev))

	require.NotNil(t, got)
	assert.Equal(t, "suspicious_activity.critical", got.Header.Get(HeaderEvent))
	assert.Equal(t, "1700000000", got.Header.Get(HeaderTimestamp))
	assert.True(t, VerifySignature(body, "whsec", got.Header.Get(HeaderSignature)))
	assert.False(t, VerifySignature(body, "other", got.Header.Get(HeaderSignature)))

	var decoded Event
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "sar_1", decoded.Data.ID)
}

func TestDeliver_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL)
	require.NoError(t, n.Deliver(context.Background(), &Event{ID: "evt_1", Type: EventSuspiciousHigh}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliver_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL)
	assert.Error(t, n.Deliver(context.Background(), &Event{ID: "evt_1", Type: EventSuspiciousHigh}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotify_FiltersBySeverity(t *testing.T) {
	n := newTestNotifier(t, "http://127.0.0.1:1")

	n.Notify(context.Background(), &audit.Record{ID: "a", Severity: audit.SeverityMedium})
	n.Notify(context.Background(), &audit.Record{ID: "b", Severity: audit.SeverityHigh})
	n.Notify(context.Background(), &audit.Record{ID: "c", Severity: audit.SeverityCritical})

	require.Len(t, n.queue, 2)
	first := <-n.queue
	assert.Equal(t, EventSuspiciousHigh, first.Type)
	assert.Equal(t, "b", first.Data.ID)
}

func TestNotify_DropsWhenFull(t *testing.T) {
	n := newTestNotifier(t, "http://127.0.0.1:1")
	for i := 0; i < 10; i++ {
		n.Notify(context.Background(), &audit.Record{Severity: audit.SeverityCritical})
	}
	assert.Len(t, n.queue, 4)
}

func TestRun_DeliversQueuedAlerts(t *testing.T) {
	delivered := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		delivered <- ev.Data.ID
	}))
	defer srv.Close()

	n := newTestNotifier(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	var sink audit.Sink = n
	sink.Notify(ctx, &audit.Record{ID: "sar_9", Severity: audit.SeverityHigh})

	select {
	case id := <-delivered:
		assert.Equal(t, "sar_9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
}
