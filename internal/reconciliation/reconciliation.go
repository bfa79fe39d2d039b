// Package reconciliation checks that real-wallet balances agree with the
// ledger entries that produced them.
package reconciliation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/metrics"
)

// historyLimit bounds how many entries are replayed per account.
const historyLimit = 10000

// Mismatch describes one account whose balance chain does not add up.
type Mismatch struct {
	Mobile   string          `json:"mobile"`
	EntryID  string          `json:"entry_id,omitempty"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
	Detail   string          `json:"detail"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Accounts   int           `json:"accounts"`
	Skipped    int           `json:"skipped"`
	Mismatches []Mismatch    `json:"mismatches"`
	Duration   time.Duration `json:"duration"`
}

// OK reports whether the run found no mismatches.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Service replays ledger history against account balances.
type Service struct {
	store ledger.Store
	now   func() time.Time
}

// NewService creates a reconciliation service over store.
func NewService(store ledger.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Run checks every account. Accounts updated after the run started are
// skipped and picked up by the next run.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	start := s.now()
	accounts, err := s.store.Accounts(ctx)
	if err != nil {
		metrics.ReconcileErrors.Inc()
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	rep := &Report{Mismatches: []Mismatch{}}
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.UpdatedAt.After(start) {
			rep.Skipped++
			continue
		}
		history, err := s.store.History(ctx, a.Mobile, historyLimit)
		if err != nil {
			metrics.ReconcileErrors.Inc()
			return nil, fmt.Errorf("failed to load history for account: %w", err)
		}
		rep.Accounts++
		rep.Mismatches = append(rep.Mismatches, checkAccount(a, history)...)
	}

	rep.Duration = s.now().Sub(start)
	metrics.ReconcileDuration.Observe(rep.Duration.Seconds())
	metrics.ReconcileMismatches.Set(float64(len(rep.Mismatches)))
	return rep, nil
}

// checkAccount replays history (newest first, as stored) oldest to newest.
// Each entry's balance_after must follow from the previous one, and the
// newest must equal the account balance.
func checkAccount(a *ledger.Account, history []*ledger.Entry) []Mismatch {
	var out []Mismatch
	if a.Balance.IsNegative() {
		out = append(out, Mismatch{Mobile: a.Mobile, Actual: a.Balance, Detail: "negative balance"})
	}
	if len(history) == 0 {
		return out
	}

	entries := slices.Clone(history)
	slices.Reverse(entries)

	for i := 1; i < len(entries); i++ {
		prev, e := entries[i-1], entries[i]
		want := prev.BalanceAfter
		if e.Status == ledger.StatusCompleted {
			switch e.Direction {
			case ledger.Credit:
				want = want.Add(e.Amount)
			case ledger.Debit:
				want = want.Sub(e.Amount)
			}
		}
		if !want.Equal(e.BalanceAfter) {
			out = append(out, Mismatch{
				Mobile:   a.Mobile,
				EntryID:  e.ID,
				Expected: want,
				Actual:   e.BalanceAfter,
				Detail:   "balance_after does not follow from previous entry",
			})
		}
	}

	newest := entries[len(entries)-1]
	if len(history) < historyLimit && !newest.BalanceAfter.Equal(a.Balance) {
		out = append(out, Mismatch{
			Mobile:   a.Mobile,
			EntryID:  newest.ID,
			Expected: newest.BalanceAfter,
			Actual:   a.Balance,
			Detail:   "account balance differs from latest entry",
		})
	}
	return out
}
