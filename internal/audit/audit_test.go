package audit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/pagination"
)

type captureSink struct {
	mu      sync.Mutex
	records []*Record
}

func (c *captureSink) Notify(_ context.Context, r *Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
}

func newRecorder() (*Recorder, *MemoryStore, *captureSink) {
	store := NewMemoryStore()
	sink := &captureSink{}
	rec := NewRecorder(store, slog.New(slog.NewTextHandler(io.Discard, nil))).AddSink(sink)
	return rec, store, sink
}

func TestRecorder_AssignsIdentityAndNotifies(t *testing.T) {
	rec, store, sink := newRecorder()
	ctx := context.Background()

	amount := decimal.NewFromInt(500)
	got, err := rec.Record(ctx, Record{
		SessionID: "sess_1",
		UserName:  "Rahul Sharma",
		Mobile:    "9876543210",
		Reason:    ReasonMonitoredTransfer,
		Kind:      KindMonitored,
		Amount:    &amount,
	})
	require.NoError(t, err)
	assert.Contains(t, got.ID, "sar_")
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, SeverityMedium, got.Severity, "severity defaults to medium")

	n, _ := store.CountBySession(ctx, "sess_1")
	assert.Equal(t, 1, n)
	require.Len(t, sink.records, 1)
	assert.Equal(t, got.ID, sink.records[0].ID)
}

func TestMemoryStore_ListBySessionNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	for i, reason := range []string{ReasonHoneypotClick, ReasonHiddenTrap} {
		require.NoError(t, store.Append(ctx, &Record{
			ID: "r" + reason, SessionID: "sess_1", Reason: reason,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.Append(ctx, &Record{ID: "other", SessionID: "sess_2", CreatedAt: base}))

	list, err := store.ListBySession(ctx, "sess_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ReasonHiddenTrap, list[0].Reason)

	total, _ := store.Count(ctx)
	assert.Equal(t, 3, total)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	amount := decimal.NewFromInt(10)
	require.NoError(t, store.Append(ctx, &Record{ID: "a", SessionID: "s", Amount: &amount, Details: map[string]any{"k": "v"}}))

	list, _ := store.ListBySession(ctx, "s")
	list[0].Details["k"] = "changed"
	*list[0].Amount = decimal.NewFromInt(99)

	again, _ := store.ListBySession(ctx, "s")
	assert.Equal(t, "v", again[0].Details["k"])
	assert.True(t, again[0].Amount.Equal(decimal.NewFromInt(10)))
}

func TestMemoryStore_ListPage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, &Record{
			ID:        string(rune('a' + i)),
			SessionID: "s",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	first, err := store.ListPage(ctx, nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "e", first[0].ID)
	assert.Equal(t, "c", first[2].ID)

	cursor := &pagination.Cursor{CreatedAt: first[2].CreatedAt, ID: first[2].ID}
	second, err := store.ListPage(ctx, cursor, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "b", second[0].ID)
	assert.Equal(t, "a", second[1].ID)

	recent, _ := store.ListRecent(ctx, 2)
	assert.Equal(t, []string{"e", "d"}, []string{recent[0].ID, recent[1].ID})
}

func TestSeverity_Rank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}
