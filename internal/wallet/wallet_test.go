package wallet

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/honeypot"
	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
)

type recordingBroadcaster struct {
	mu  sync.Mutex
	txs []any
}

func (r *recordingBroadcaster) BroadcastTransaction(_ string, tx any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

type harness struct {
	sessions  *session.Manager
	audit     *audit.MemoryStore
	service   *Service
	broadcast *recordingBroadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(session.NewMemoryStore(), logger)
	store := audit.NewMemoryStore()
	recorder := audit.NewRecorder(store, logger)
	collector := signals.NewCollector(sessions, recorder, nil)
	b := &recordingBroadcaster{}
	opening := decimal.NewFromInt(50000)
	return &harness{
		sessions: sessions,
		audit:    store,
		service: NewService(sessions,
			ledger.New(ledger.NewMemoryStore(), collector, opening),
			honeypot.New(recorder, collector, opening),
			b),
		broadcast: b,
	}
}

func (h *harness) routed(t *testing.T, mobile string, route session.Route) string {
	t.Helper()
	ctx := context.Background()
	s, err := h.sessions.Create(ctx, mobile, "Rahul Sharma", false)
	require.NoError(t, err)
	if route != session.RouteUndecided {
		_, err = h.sessions.Update(ctx, s.ID, func(s *session.Session) error {
			return s.CommitRoute(route, h.sessions.Now())
		})
		require.NoError(t, err)
	}
	return s.ID
}

func TestService_RouteUndecided(t *testing.T) {
	h := newHarness(t)
	id := h.routed(t, "9876543210", session.RouteUndecided)
	ctx := context.Background()

	_, err := h.service.Balance(ctx, id)
	assert.ErrorIs(t, err, ErrRouteUndecided)
	_, err = h.service.Send(ctx, id, decimal.NewFromInt(10), "x")
	assert.ErrorIs(t, err, ErrRouteUndecided)
	_, err = h.service.History(ctx, id, 10)
	assert.ErrorIs(t, err, ErrRouteUndecided)
}

func TestService_RealWallet(t *testing.T) {
	h := newHarness(t)
	id := h.routed(t, "9876543210", session.RouteReal)
	ctx := context.Background()

	view, err := h.service.Balance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "50000.00", view.Balance.StringFixed(2))
	assert.Equal(t, Currency, view.Currency)

	r, err := h.service.Send(ctx, id, decimal.NewFromInt(2000), "Priya")
	require.NoError(t, err)
	assert.Equal(t, "completed", r.Status)
	assert.Equal(t, "sent", r.Type)
	assert.Equal(t, "48000.00", r.BalanceAfter.StringFixed(2))

	_, err = h.service.Send(ctx, id, decimal.NewFromInt(60000), "Priya")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	s, err := h.sessions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CountSignals(signals.TypeFailedTransaction), "rejected debit keeps its signal")

	_, err = h.service.Add(ctx, id, decimal.NewFromInt(500), "UPI")
	require.NoError(t, err)

	hist, err := h.service.History(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "added", hist[0].Type)
	assert.Equal(t, "failed", hist[1].Status)

	recs, err := h.audit.ListBySession(ctx, id)
	require.NoError(t, err)
	require.Len(t, recs, 1, "only the rejected debit is suspicious")
	assert.Equal(t, audit.ReasonInsufficientBalance, recs[0].Reason)
	assert.Len(t, h.broadcast.txs, 2)
}

func TestService_HoneypotLooksReal(t *testing.T) {
	h := newHarness(t)
	realID := h.routed(t, "9876543210", session.RouteReal)
	decoyID := h.routed(t, "8888888888", session.RouteHoneypot)
	ctx := context.Background()

	rv, err := h.service.Balance(ctx, realID)
	require.NoError(t, err)
	dv, err := h.service.Balance(ctx, decoyID)
	require.NoError(t, err)
	assert.Equal(t, rv.Balance.StringFixed(2), dv.Balance.StringFixed(2))

	rr, err := h.service.Send(ctx, realID, decimal.NewFromInt(100), "A")
	require.NoError(t, err)
	dr, err := h.service.Send(ctx, decoyID, decimal.NewFromInt(100), "A")
	require.NoError(t, err)

	rawReal, _ := json.Marshal(rr)
	rawDecoy, _ := json.Marshal(dr)
	var realKeys, decoyKeys map[string]any
	require.NoError(t, json.Unmarshal(rawReal, &realKeys))
	require.NoError(t, json.Unmarshal(rawDecoy, &decoyKeys))
	for k := range realKeys {
		assert.Contains(t, decoyKeys, k)
	}
	assert.Equal(t, "completed", dr.Status, "monitored renders as completed")

	large, err := h.service.Send(ctx, decoyID, decimal.NewFromInt(1_000_000), "Mule")
	require.NoError(t, err, "decoyID never rejects")
	assert.True(t, large.BalanceAfter.IsZero())

	recs, err := h.audit.ListBySession(ctx, decoyID)
	require.NoError(t, err)
	reasons := map[string]int{}
	for _, r := range recs {
		reasons[r.Reason]++
	}
	assert.Equal(t, map[string]int{audit.ReasonMonitoredTransfer: 2, audit.ReasonMonitoredAction: 1}, reasons,
		"balance view and both transfers are on the trail")
	n, _ := h.audit.CountBySession(ctx, realID)
	assert.Zero(t, n, "real reads are not recorded")

	hist, err := h.service.History(ctx, decoyID, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestService_DecoyPortfolioAndTransfer(t *testing.T) {
	h := newHarness(t)
	id := h.routed(t, "8888888888", session.RouteHoneypot)
	ctx := context.Background()

	p, err := h.service.DecoyPortfolio(ctx, id)
	require.NoError(t, err)
	require.Len(t, p.Balances, 4)

	r, err := h.service.DecoyTransfer(ctx, id, decimal.NewFromInt(750), "Mule")
	require.NoError(t, err)
	assert.Regexp(t, `^TXN`, r.ID)

	_, err = h.service.DecoyTransfer(ctx, "sess_missing", decimal.NewFromInt(1), "x")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestService_DecoyTrack(t *testing.T) {
	h := newHarness(t)
	id := h.routed(t, "8888888888", session.RouteHoneypot)
	ctx := context.Background()

	require.NoError(t, h.service.DecoyTrack(ctx, id, "honeypot_trigger", map[string]any{"element": "transfer-all"}))
	require.NoError(t, h.service.DecoyTrack(ctx, id, "copy_account_number", nil))

	recs, err := h.audit.ListBySession(ctx, id)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.ReasonMonitoredAction, recs[0].Reason)
	assert.Equal(t, audit.ReasonHiddenTrap, recs[1].Reason)

	assert.ErrorIs(t, h.service.DecoyTrack(ctx, "sess_missing", "x", nil), session.ErrNotFound)
}
