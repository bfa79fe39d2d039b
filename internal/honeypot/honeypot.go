// Package honeypot runs the decoy wallet shown to high-risk sessions. Every
// operation succeeds, nothing moves, and everything lands on the audit trail.
package honeypot

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/idgen"
	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
	"github.com/honeykyc/gateway/internal/traces"
	"github.com/honeykyc/gateway/internal/validation"
)

// PrimaryAccount names the decoy balance that transfers draw from.
const PrimaryAccount = "Primary Wallet"

// recentCap bounds the cross-session entry log kept for the dashboard.
const recentCap = 500

// extraAccount describes a seeded side account.
type extraAccount struct {
	name     string
	min, max int64
}

var extras = []extraAccount{
	{"Savings Account", 25_000, 250_000},
	{"Current Account", 5_000, 80_000},
	{"Fixed Deposit", 100_000, 500_000},
}

// AccountBalance is one line of the decoy portfolio.
type AccountBalance struct {
	Account string          `json:"account"`
	Number  string          `json:"number"`
	Balance decimal.Decimal `json:"balance"`
}

// Portfolio is the decoy net-worth view.
type Portfolio struct {
	Balances      []AccountBalance `json:"balances"`
	TotalNetWorth decimal.Decimal  `json:"total_net_worth"`
}

type decoy struct {
	accounts []AccountBalance // accounts[0] is the primary wallet
	entries  []*ledger.Entry  // oldest first
}

// Simulator keeps decoy state per session. It is created lazily on first use
// and dropped when the session ends.
type Simulator struct {
	recorder  *audit.Recorder
	collector *signals.Collector
	opening   decimal.Decimal
	now       func() time.Time

	mu     sync.RWMutex
	decoys map[string]*decoy
	recent []*ledger.Entry // newest last, capped at recentCap
	total  atomic.Int64
}

// New creates a simulator whose primary balance starts at opening, matching
// the real wallet so the two surfaces look the same.
func New(recorder *audit.Recorder, collector *signals.Collector, opening decimal.Decimal) *Simulator {
	if !opening.IsPositive() {
		opening = ledger.DefaultStartingBalance
	}
	return &Simulator{
		recorder:  recorder,
		collector: collector,
		opening:   opening,
		now:       time.Now,
		decoys:    make(map[string]*decoy),
	}
}

// seed derives the decoy accounts from the session id so repeated page loads
// show the same portfolio.
func (h *Simulator) seed(sessionID string) *decoy {
	sum := sha256.Sum256([]byte(sessionID))
	d := &decoy{accounts: []AccountBalance{{
		Account: PrimaryAccount,
		Number:  accountNumber(sum[28:]),
		Balance: h.opening,
	}}}
	for i, x := range extras {
		chunk := sum[i*8 : i*8+8]
		span := uint64(x.max - x.min)
		paise := int64(binary.BigEndian.Uint64(chunk) % (span * 100))
		d.accounts = append(d.accounts, AccountBalance{
			Account: x.name,
			Number:  accountNumber(chunk[4:]),
			Balance: decimal.New(x.min*100+paise, -2),
		})
	}
	return d
}

func accountNumber(b []byte) string {
	return fmt.Sprintf("XXXX%04d", binary.BigEndian.Uint32(b[:4])%10000)
}

// state returns the decoy for id, creating it. Caller holds h.mu.
func (h *Simulator) state(id string) *decoy {
	d, ok := h.decoys[id]
	if !ok {
		d = h.seed(id)
		h.decoys[id] = d
	}
	return d
}

// Portfolio returns every decoy account and the total net worth. Call it
// with the session lock held; the view is recorded as a monitored action.
func (h *Simulator) Portfolio(ctx context.Context, s *session.Session) Portfolio {
	h.mu.Lock()
	d := h.state(s.ID)
	p := Portfolio{Balances: make([]AccountBalance, len(d.accounts)), TotalNetWorth: decimal.Zero}
	copy(p.Balances, d.accounts)
	for _, a := range d.accounts {
		p.TotalNetWorth = p.TotalNetWorth.Add(a.Balance)
	}
	h.mu.Unlock()

	h.monitor(ctx, s, ActionViewPortfolio, map[string]any{"total_net_worth": p.TotalNetWorth.StringFixed(2)})
	return p
}

// Balance returns the decoy primary balance and records the view.
func (h *Simulator) Balance(ctx context.Context, s *session.Session) decimal.Decimal {
	h.mu.Lock()
	bal := h.state(s.ID).accounts[0].Balance
	h.mu.Unlock()

	h.monitor(ctx, s, ActionViewBalance, map[string]any{"balance": bal.StringFixed(2)})
	return bal
}

// Decoy page actions recorded on the trail.
const (
	ActionViewBalance   = "view_balance"
	ActionViewPortfolio = "view_portfolio"
	ActionViewHistory   = "view_history"
)

// monitor records a low-severity monitored_action for a decoy interaction
// that has no record of its own.
func (h *Simulator) monitor(ctx context.Context, s *session.Session, action string, details map[string]any) {
	if h.recorder == nil {
		return
	}
	d := make(map[string]any, len(details)+1)
	for k, v := range details {
		d[k] = v
	}
	d["action"] = action
	rec := audit.Record{
		SessionID: s.ID,
		UserName:  s.ClaimedName,
		Mobile:    s.Mobile,
		Reason:    audit.ReasonMonitoredAction,
		Kind:      audit.KindMonitored,
		Severity:  audit.SeverityLow,
		Details:   d,
	}
	if _, err := h.recorder.Record(ctx, rec); err != nil {
		logging.L(ctx).Error("failed to record monitored action", "session_id", s.ID, "action", action, "error", err)
	}
}

// Transfer pretends to send amount. Any positive amount with at most two
// decimals is accepted, with no per-transaction cap; the displayed balance
// floors at zero. Call it with the session lock held.
func (h *Simulator) Transfer(ctx context.Context, s *session.Session, amount decimal.Decimal, recipient string) (*ledger.Entry, error) {
	return h.apply(ctx, s, ledger.Debit, amount, recipient)
}

// Deposit pretends to add amount. Call it with the session lock held.
func (h *Simulator) Deposit(ctx context.Context, s *session.Session, amount decimal.Decimal, source string) (*ledger.Entry, error) {
	return h.apply(ctx, s, ledger.Credit, amount, source)
}

func (h *Simulator) apply(ctx context.Context, s *session.Session, dir ledger.Direction, amount decimal.Decimal, counterparty string) (*ledger.Entry, error) {
	ctx, span := traces.StartSpan(ctx, "honeypot."+string(dir),
		traces.SessionID(s.ID), traces.Amount(amount.StringFixed(2)))
	defer span.End()

	if v := validation.WellFormedAmount("amount", amount)(); v != nil {
		return nil, fmt.Errorf("%w: %s", ledger.ErrInvalidAmount, v.Message)
	}

	e := &ledger.Entry{
		ID:           idgen.TransactionID(),
		SessionID:    s.ID,
		Mobile:       s.Mobile,
		UserName:     s.ClaimedName,
		Direction:    dir,
		Amount:       amount,
		Counterparty: validation.SanitizeString(counterparty, validation.MaxNameLength),
		Status:       ledger.StatusMonitored,
		Wallet:       ledger.WalletHoneypot,
		CreatedAt:    h.now(),
	}

	h.mu.Lock()
	d := h.state(s.ID)
	bal := d.accounts[0].Balance
	if dir == ledger.Debit {
		bal = decimal.Max(decimal.Zero, bal.Sub(amount))
	} else {
		bal = bal.Add(amount)
	}
	d.accounts[0].Balance = bal
	e.BalanceAfter = bal
	d.entries = append(d.entries, e)
	h.recent = append(h.recent, e)
	if len(h.recent) > recentCap {
		h.recent = h.recent[len(h.recent)-recentCap:]
	}
	h.mu.Unlock()
	h.total.Add(1)
	metrics.HoneypotOperationsTotal.WithLabelValues(string(dir)).Inc()

	rec := audit.Record{
		SessionID: s.ID,
		UserName:  s.ClaimedName,
		Mobile:    s.Mobile,
		Kind:      audit.KindMonitored,
		Amount:    &amount,
		Details:   map[string]any{"transaction_id": e.ID},
	}
	sigType := signals.TypeWalletAdd
	payload := map[string]any{"amount": amount.StringFixed(2), "entry_id": e.ID}
	if dir == ledger.Debit {
		rec.Reason, rec.Severity = audit.ReasonMonitoredTransfer, audit.SeverityHigh
		rec.Details["recipient"] = e.Counterparty
		sigType = signals.TypeWalletSend
		payload["recipient"] = e.Counterparty
	} else {
		rec.Reason, rec.Severity = audit.ReasonMonitoredDeposit, audit.SeverityMedium
		rec.Details["source"] = e.Counterparty
	}
	if _, err := h.recorder.Record(ctx, rec); err != nil {
		logging.L(ctx).Error("failed to record monitored operation", "session_id", s.ID, "error", err)
	}
	if err := h.collector.Observe(ctx, s, signals.Event{Type: sigType, Payload: payload}); err != nil {
		logging.L(ctx).Warn("failed to record wallet signal", "session_id", s.ID, "error", err)
	}
	return cloneEntry(e), nil
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	c := *e
	return &c
}

// Trap records a hidden-element interaction as a critical trap hit.
func (h *Simulator) Trap(ctx context.Context, id, element string) error {
	return h.collector.RecordBehavior(ctx, id, signals.Event{
		Type:    signals.TypeHiddenTrap,
		Payload: map[string]any{"element": validation.SanitizeString(element, 128)},
	})
}

// Track records a decoy-page action on s. Actions with a typed meaning
// (trap hits, page views, failed transactions) are observed as that event and
// raise its own records; any other action is kept as a honeypot_action signal
// and recorded as a monitored action. Call it with the session lock held.
func (h *Simulator) Track(ctx context.Context, s *session.Session, action string, details map[string]any) error {
	action = validation.SanitizeString(action, 64)
	payload := make(map[string]any, len(details)+1)
	for k, v := range details {
		payload[k] = v
	}
	payload["action_type"] = action

	typ := signals.ActionType(action, signals.TypeHoneypotAction)
	if typ == signals.TypePageView {
		if page, _ := payload["page"].(string); page == "" {
			typ = signals.TypeHoneypotAction
		}
	}
	if err := h.collector.Observe(ctx, s, signals.Event{Type: typ, Payload: payload}); err != nil {
		return err
	}
	if !signals.IsTrap(typ) {
		h.monitor(ctx, s, action, details)
	}
	return nil
}

// History returns the session's decoy entries, newest first, and records
// the view.
func (h *Simulator) History(ctx context.Context, s *session.Session, limit int) []*ledger.Entry {
	h.mu.RLock()
	var out []*ledger.Entry
	if d, ok := h.decoys[s.ID]; ok {
		out = make([]*ledger.Entry, 0, min(limit, len(d.entries)))
		for i := len(d.entries) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, cloneEntry(d.entries[i]))
		}
	} else {
		out = []*ledger.Entry{}
	}
	h.mu.RUnlock()

	h.monitor(ctx, s, ActionViewHistory, map[string]any{"entries": len(out)})
	return out
}

// Recent returns decoy entries across sessions, newest first. Entries of
// discarded sessions remain until they age out of the log.
func (h *Simulator) Recent(limit int) []*ledger.Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*ledger.Entry, 0, min(limit, len(h.recent)))
	for i := len(h.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneEntry(h.recent[i]))
	}
	return out
}

// Count returns the number of decoy operations since start.
func (h *Simulator) Count() int { return int(h.total.Load()) }

// Active reports whether decoy state exists for the session.
func (h *Simulator) Active(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.decoys[id]
	return ok
}

// Discard drops the session's decoy state. It has the session.EndHook shape.
func (h *Simulator) Discard(ctx context.Context, s *session.Session) {
	h.mu.Lock()
	_, ok := h.decoys[s.ID]
	delete(h.decoys, s.ID)
	h.mu.Unlock()
	if ok {
		logging.L(ctx).Debug("decoy state discarded", "session_id", s.ID)
	}
}
