package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeykyc/gateway/internal/idgen"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
)

// Sink receives every stored record. Implementations must not block.
type Sink interface {
	Notify(ctx context.Context, r *Record)
}

// Recorder assigns identity to records, persists them and fans them out to
// operator sinks (live feed, alert webhook).
type Recorder struct {
	store  Store
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder over store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// AddSink registers a sink. Not safe to call concurrently with Record.
func (r *Recorder) AddSink(s Sink) *Recorder {
	r.sinks = append(r.sinks, s)
	return r
}

// Store exposes the underlying store for read paths.
func (r *Recorder) Store() Store { return r.store }

// Record persists rec synchronously and notifies sinks.
func (r *Recorder) Record(ctx context.Context, rec Record) (*Record, error) {
	if rec.ID == "" {
		rec.ID = idgen.WithPrefix("sar_")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	if rec.Severity == "" {
		rec.Severity = SeverityMedium
	}
	if err := r.store.Append(ctx, &rec); err != nil {
		return nil, fmt.Errorf("record suspicious activity: %w", err)
	}

	metrics.SuspiciousActivityTotal.WithLabelValues(rec.Reason, string(rec.Severity)).Inc()
	logging.L(ctx).Warn("suspicious activity recorded",
		"record_id", rec.ID,
		"session_id", rec.SessionID,
		"mobile", logging.MaskMobile(rec.Mobile),
		"reason", rec.Reason,
		"severity", rec.Severity,
	)

	for _, s := range r.sinks {
		s.Notify(ctx, &rec)
	}
	return &rec, nil
}
