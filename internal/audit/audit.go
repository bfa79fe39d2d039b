// Package audit keeps the suspicious-activity trail: every trap hit, pattern
// match and monitored honeypot operation. Records outlive their sessions.
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/pagination"
)

// Severity ranks how strongly a record indicates fraud.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for filtering; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Kind groups records by origin.
type Kind string

const (
	KindTrap      Kind = "trap"      // decoy element or endpoint touched
	KindPattern   Kind = "pattern"   // behavioral pattern matched
	KindMonitored Kind = "monitored" // operation performed inside the honeypot
)

// Reasons recorded on the trail.
const (
	ReasonHiddenTrap          = "hidden_trap_triggered"
	ReasonHoneypotClick       = "honeypot_click"
	ReasonAdminProbe          = "admin_panel_probe"
	ReasonSensitivePageView   = "sensitive_page_view"
	ReasonInsufficientBalance = "insufficient_balance_attempt"
	ReasonRepeatedFailures    = "repeated_failed_transactions"
	ReasonRapidTransactions   = "rapid_transactions"
	ReasonNewAccountLarge     = "new_account_large_transaction"
	ReasonMonitoredTransfer   = "monitored_transfer"
	ReasonMonitoredDeposit    = "monitored_deposit"
	ReasonMonitoredAction     = "monitored_action"
)

// Record is one suspicious-activity entry.
type Record struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	UserName  string           `json:"user_name"`
	Mobile    string           `json:"mobile"`
	Reason    string           `json:"reason"`
	Kind      Kind             `json:"kind"`
	Severity  Severity         `json:"severity"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Details   map[string]any   `json:"details,omitempty"`
	CreatedAt time.Time        `json:"timestamp"`
}

// Store persists the trail. Listings are newest first.
type Store interface {
	Append(ctx context.Context, r *Record) error
	ListBySession(ctx context.Context, sessionID string) ([]*Record, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
	// ListPage returns up to limit records strictly after cursor (nil = from newest).
	ListPage(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*Record, error)
	Count(ctx context.Context) (int, error)
}
