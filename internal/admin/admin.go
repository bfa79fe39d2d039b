// Package admin aggregates sessions, both wallets and the suspicious-activity
// trail into the operator dashboard.
package admin

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/honeypot"
	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/risk"
	"github.com/honeykyc/gateway/internal/session"
)

const (
	RecentTransactionsLimit = 30
	RecentSuspiciousLimit   = 20
	userHistoryLimit        = 200
)

// UserSummary groups every session of one mobile number.
type UserSummary struct {
	Mobile          string           `json:"mobile"`
	Name            string           `json:"name"`
	Logins          int              `json:"logins"`
	SuspiciousCount int              `json:"suspicious_count"`
	Transactions    int              `json:"transactions"`
	TotalSpent      decimal.Decimal  `json:"total_spent"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	RiskScore       int              `json:"risk_score"`
	RiskLevel       string           `json:"risk_level"`
	Route           session.Route    `json:"route"`
	LastSeen        time.Time        `json:"last_seen"`
}

// Stats are the dashboard headline counters.
type Stats struct {
	TotalUsers           int `json:"total_users"`
	HighRiskUsers        int `json:"high_risk_users"`
	TotalTransactions    int `json:"total_transactions"`
	SuspiciousActivities int `json:"suspicious_activities"`
	ActiveSessions       int `json:"active_sessions"`
	HoneypotSessions     int `json:"honeypot_sessions"`
}

// Dashboard is one consistent-enough snapshot for the operator page.
type Dashboard struct {
	Users              []*UserSummary  `json:"users"`
	RecentTransactions []*ledger.Entry `json:"recent_transactions"`
	RecentSuspicious   []*audit.Record `json:"suspicious_activities"`
	Stats              Stats           `json:"stats"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// SessionDetail is the drill-down for one session.
type SessionDetail struct {
	Session      *session.Session `json:"session"`
	Suspicious   []*audit.Record  `json:"suspicious_activities"`
	Transactions []*ledger.Entry  `json:"transactions"`
}

// Aggregator reads without taking session locks.
type Aggregator struct {
	sessions *session.Manager
	ledger   ledger.Store
	decoy    *honeypot.Simulator
	audit    audit.Store
	now      func() time.Time
}

// NewAggregator creates the dashboard aggregator.
func NewAggregator(sessions *session.Manager, ledgerStore ledger.Store, decoy *honeypot.Simulator, auditStore audit.Store) *Aggregator {
	return &Aggregator{sessions: sessions, ledger: ledgerStore, decoy: decoy, audit: auditStore, now: time.Now}
}

// Dashboard builds the operator snapshot.
func (a *Aggregator) Dashboard(ctx context.Context) (*Dashboard, error) {
	all, err := a.sessions.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot sessions: %w", err)
	}
	decoyEntries := a.decoy.Recent(a.decoy.Count())

	users, stats, err := a.users(ctx, all, decoyEntries)
	if err != nil {
		return nil, err
	}

	realRecent, err := a.ledger.Recent(ctx, RecentTransactionsLimit)
	if err != nil {
		return nil, fmt.Errorf("recent ledger entries: %w", err)
	}
	realCount, err := a.ledger.CountEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ledger entries: %w", err)
	}
	suspicious, err := a.audit.ListRecent(ctx, RecentSuspiciousLimit)
	if err != nil {
		return nil, fmt.Errorf("recent suspicious activity: %w", err)
	}
	suspiciousCount, err := a.audit.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count suspicious activity: %w", err)
	}

	stats.TotalTransactions = realCount + a.decoy.Count()
	stats.SuspiciousActivities = suspiciousCount

	return &Dashboard{
		Users:              users,
		RecentTransactions: mergeRecent(realRecent, decoyEntries, RecentTransactionsLimit),
		RecentSuspicious:   suspicious,
		Stats:              stats,
		GeneratedAt:        a.now(),
	}, nil
}

func (a *Aggregator) users(ctx context.Context, all []*session.Session, decoyEntries []*ledger.Entry) ([]*UserSummary, Stats, error) {
	var stats Stats
	byMobile := make(map[string]*UserSummary)
	latest := make(map[string]time.Time)

	for _, s := range all {
		if s.Active() && !s.IdleSince(a.now(), a.sessions.IdleTimeout()) {
			stats.ActiveSessions++
		}
		if s.Route == session.RouteHoneypot {
			stats.HoneypotSessions++
		}

		u, ok := byMobile[s.Mobile]
		if !ok {
			u = &UserSummary{Mobile: s.Mobile, TotalSpent: decimal.Zero}
			byMobile[s.Mobile] = u
		}
		u.Logins++
		n, err := a.audit.CountBySession(ctx, s.ID)
		if err != nil {
			return nil, stats, fmt.Errorf("count suspicious activity: %w", err)
		}
		u.SuspiciousCount += n

		if s.CreatedAt.After(latest[s.Mobile]) || !ok {
			latest[s.Mobile] = s.CreatedAt
			u.Name = s.ClaimedName
			u.RiskScore = s.RiskScore
			u.RiskLevel = s.RiskLevel
			u.Route = s.Route
		}
		if s.LastActiveAt.After(u.LastSeen) {
			u.LastSeen = s.LastActiveAt
		}
	}

	for _, e := range decoyEntries {
		if u, ok := byMobile[e.Mobile]; ok {
			tally(u, e)
		}
	}

	users := make([]*UserSummary, 0, len(byMobile))
	for mobile, u := range byMobile {
		entries, err := a.ledger.History(ctx, mobile, userHistoryLimit)
		if err != nil {
			return nil, stats, fmt.Errorf("ledger history: %w", err)
		}
		for _, e := range entries {
			tally(u, e)
		}
		acct, err := a.ledger.Get(ctx, mobile)
		if err == nil {
			bal := acct.Balance
			u.Balance = &bal
		}
		if lvl, err := risk.ParseLevel(u.RiskLevel); err == nil && lvl.Rank() >= risk.LevelHigh.Rank() {
			stats.HighRiskUsers++
		}
		users = append(users, u)
	}
	stats.TotalUsers = len(users)

	sort.Slice(users, func(i, j int) bool {
		if users[i].RiskScore != users[j].RiskScore {
			return users[i].RiskScore > users[j].RiskScore
		}
		return users[i].Mobile < users[j].Mobile
	})
	return users, stats, nil
}

func tally(u *UserSummary, e *ledger.Entry) {
	u.Transactions++
	if e.Direction == ledger.Debit && e.Status != ledger.StatusFailed {
		u.TotalSpent = u.TotalSpent.Add(e.Amount)
	}
}

// mergeRecent merges two newest-first lists into one capped at limit.
func mergeRecent(a, b []*ledger.Entry, limit int) []*ledger.Entry {
	out := make([]*ledger.Entry, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Session returns the drill-down for id, archived sessions included.
func (a *Aggregator) Session(ctx context.Context, id string) (*SessionDetail, error) {
	s, err := a.sessions.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	recs, err := a.audit.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list suspicious activity: %w", err)
	}

	var txs []*ledger.Entry
	if s.Route == session.RouteHoneypot {
		for _, e := range a.decoy.Recent(a.decoy.Count()) {
			if e.SessionID == id {
				txs = append(txs, e)
			}
		}
	} else {
		entries, err := a.ledger.History(ctx, s.Mobile, userHistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("ledger history: %w", err)
		}
		for _, e := range entries {
			if e.SessionID == id {
				txs = append(txs, e)
			}
		}
	}
	if txs == nil {
		txs = []*ledger.Entry{}
	}
	return &SessionDetail{Session: s, Suspicious: recs, Transactions: txs}, nil
}
