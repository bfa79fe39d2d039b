// Package ledger is the real wallet: per-mobile INR balances that persist
// across sessions and never go negative.
//
// Flow:
//  1. A routed REAL session opens (or reopens) the account for its mobile
//  2. Credits always succeed and raise the balance
//  3. Debits above the balance are rejected, recorded as failed entries and
//     fed back into scoring as failed_transaction signals
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/idgen"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
	"github.com/honeykyc/gateway/internal/traces"
	"github.com/honeykyc/gateway/internal/validation"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAmount     = errors.New("ledger: invalid amount")
	ErrAccountNotFound   = errors.New("ledger: account not found")
)

// DefaultStartingBalance is the opening balance of a new account.
var DefaultStartingBalance = decimal.NewFromInt(50000)

// Direction of money movement relative to the account holder.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Status of an entry.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusMonitored Status = "monitored" // honeypot entries only
)

// Wallet names which ledger produced an entry.
type Wallet string

const (
	WalletReal     Wallet = "real"
	WalletHoneypot Wallet = "honeypot"
)

// ReasonInsufficientBalance marks rejected debits.
const ReasonInsufficientBalance = signals.FailureInsufficientBalance

// Entry is one ledger line. Honeypot entries share the shape.
type Entry struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Mobile       string          `json:"mobile"`
	UserName     string          `json:"user_name"`
	Direction    Direction       `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"recipient,omitempty"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Wallet       Wallet          `json:"wallet"`
	CreatedAt    time.Time       `json:"timestamp"`
}

// Account is a real-wallet balance keyed by mobile number.
type Account struct {
	Mobile    string          `json:"mobile"`
	UserName  string          `json:"user_name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists accounts and entries. Post must be atomic per account.
type Store interface {
	// Open returns the account for mobile, creating it with opening if absent.
	Open(ctx context.Context, mobile, userName string, opening decimal.Decimal) (*Account, error)
	Get(ctx context.Context, mobile string) (*Account, error)
	// Post applies e to its account and appends it. A debit above the
	// balance leaves the balance unchanged, is stored with StatusFailed and
	// returns ErrInsufficientFunds.
	Post(ctx context.Context, e *Entry) error
	History(ctx context.Context, mobile string, limit int) ([]*Entry, error)
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Accounts(ctx context.Context) ([]*Account, error)
	CountEntries(ctx context.Context) (int, error)
}

// Ledger posts real-wallet operations on behalf of sessions.
type Ledger struct {
	store     Store
	collector *signals.Collector
	opening   decimal.Decimal
	now       func() time.Time
}

// New creates a ledger. A non-positive opening uses DefaultStartingBalance.
func New(store Store, collector *signals.Collector, opening decimal.Decimal) *Ledger {
	if !opening.IsPositive() {
		opening = DefaultStartingBalance
	}
	return &Ledger{store: store, collector: collector, opening: opening, now: time.Now}
}

// Store exposes the underlying store for read paths.
func (l *Ledger) Store() Store { return l.store }

// StartingBalance returns the opening balance of new accounts.
func (l *Ledger) StartingBalance() decimal.Decimal { return l.opening }

// Account returns the session holder's account, opening it if needed.
func (l *Ledger) Account(ctx context.Context, s *session.Session) (*Account, error) {
	return l.store.Open(ctx, s.Mobile, s.ClaimedName, l.opening)
}

// Debit moves amount out of the session holder's account. Call it with the
// session lock held; it appends a wallet_send or failed_transaction signal to s.
func (l *Ledger) Debit(ctx context.Context, s *session.Session, amount decimal.Decimal, recipient string) (*Entry, error) {
	return l.post(ctx, s, Debit, amount, recipient)
}

// Credit adds amount to the session holder's account. Call it with the
// session lock held; it appends a wallet_add signal to s.
func (l *Ledger) Credit(ctx context.Context, s *session.Session, amount decimal.Decimal, source string) (*Entry, error) {
	return l.post(ctx, s, Credit, amount, source)
}

func (l *Ledger) post(ctx context.Context, s *session.Session, dir Direction, amount decimal.Decimal, counterparty string) (*Entry, error) {
	ctx, span := traces.StartSpan(ctx, "ledger."+string(dir),
		traces.SessionID(s.ID), traces.Amount(amount.StringFixed(2)))
	defer span.End()

	if v := validation.ValidAmount("amount", amount)(); v != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, v.Message)
	}
	if _, err := l.Account(ctx, s); err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	e := &Entry{
		ID:           idgen.TransactionID(),
		SessionID:    s.ID,
		Mobile:       s.Mobile,
		UserName:     s.ClaimedName,
		Direction:    dir,
		Amount:       amount,
		Counterparty: validation.SanitizeString(counterparty, validation.MaxNameLength),
		Status:       StatusCompleted,
		Wallet:       WalletReal,
		CreatedAt:    l.now(),
	}
	err := l.store.Post(ctx, e)
	if err != nil && !errors.Is(err, ErrInsufficientFunds) {
		traces.Fail(span, err)
		return nil, fmt.Errorf("post %s: %w", dir, err)
	}
	metrics.LedgerOperationsTotal.WithLabelValues(string(dir), string(e.Status)).Inc()

	sigType, payload := signals.TypeWalletAdd, map[string]any{"amount": amount.StringFixed(2), "entry_id": e.ID}
	if dir == Debit {
		sigType = signals.TypeWalletSend
		payload["recipient"] = e.Counterparty
	}
	if errors.Is(err, ErrInsufficientFunds) {
		sigType = signals.TypeFailedTransaction
		payload["reason"] = ReasonInsufficientBalance
		payload["balance"] = e.BalanceAfter.StringFixed(2)
	}
	if oerr := l.collector.Observe(ctx, s, signals.Event{Type: sigType, Payload: payload}); oerr != nil {
		logging.L(ctx).Warn("failed to record wallet signal", "session_id", s.ID, "error", oerr)
	}

	logging.L(ctx).Info("ledger entry posted",
		"session_id", s.ID,
		"direction", dir,
		"amount", amount.StringFixed(2),
		"status", e.Status,
	)
	return e, err
}

// History returns the latest entries of the session holder's account.
func (l *Ledger) History(ctx context.Context, mobile string, limit int) ([]*Entry, error) {
	return l.store.History(ctx, strings.TrimSpace(mobile), limit)
}
