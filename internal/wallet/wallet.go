// Package wallet is the single wallet surface a verified session sees. It
// dispatches on the committed route to the real ledger or the honeypot and
// renders both through the same response shapes.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/honeypot"
	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/session"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var ErrRouteUndecided = errors.New("wallet: route not decided")

// DefaultHistoryLimit caps transaction listings.
const DefaultHistoryLimit = 50

// Currency of every balance.
const Currency = "INR"

// TransactionBroadcaster publishes operations to the operator live feed. It
// receives the full entry, wallet included.
type TransactionBroadcaster interface {
	BroadcastTransaction(sessionID string, tx any)
}

// View is the balance page.
type View struct {
	AccountHolder string          `json:"account_holder"`
	Mobile        string          `json:"mobile"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
}

// Transaction is one public history line. Monitored decoy entries render as
// completed.
type Transaction struct {
	ID           string          `json:"transaction_id"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty,omitempty"`
	Status       string          `json:"status"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Receipt answers a send or add.
type Receipt struct {
	Transaction
	Message string `json:"message"`
}

// Service routes wallet calls.
type Service struct {
	sessions  *session.Manager
	ledger    *ledger.Ledger
	decoy     *honeypot.Simulator
	broadcast TransactionBroadcaster
}

// NewService creates the facade. broadcast may be nil.
func NewService(sessions *session.Manager, l *ledger.Ledger, decoy *honeypot.Simulator, broadcast TransactionBroadcaster) *Service {
	return &Service{sessions: sessions, ledger: l, decoy: decoy, broadcast: broadcast}
}

func routeOf(s *session.Session) (session.Route, error) {
	switch s.Route {
	case session.RouteReal, session.RouteHoneypot:
		return s.Route, nil
	}
	return "", ErrRouteUndecided
}

// Balance returns the balance page for the session's wallet.
func (w *Service) Balance(ctx context.Context, id string) (*View, error) {
	var view *View
	_, err := w.sessions.Update(ctx, id, func(s *session.Session) error {
		route, err := routeOf(s)
		if err != nil {
			return err
		}
		view = &View{AccountHolder: s.ClaimedName, Mobile: s.Mobile, Currency: Currency}
		if route == session.RouteHoneypot {
			view.Balance = w.decoy.Balance(ctx, s)
			return nil
		}
		acct, err := w.ledger.Account(ctx, s)
		if err != nil {
			return err
		}
		view.Balance = acct.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Send moves amount to recipient.
func (w *Service) Send(ctx context.Context, id string, amount decimal.Decimal, recipient string) (*Receipt, error) {
	return w.post(ctx, id, ledger.Debit, amount, recipient)
}

// Add credits amount from source.
func (w *Service) Add(ctx context.Context, id string, amount decimal.Decimal, source string) (*Receipt, error) {
	return w.post(ctx, id, ledger.Credit, amount, source)
}

func (w *Service) post(ctx context.Context, id string, dir ledger.Direction, amount decimal.Decimal, counterparty string) (*Receipt, error) {
	var entry *ledger.Entry
	_, err := w.sessions.Update(ctx, id, func(s *session.Session) error {
		route, err := routeOf(s)
		if err != nil {
			return err
		}
		switch {
		case route == session.RouteHoneypot && dir == ledger.Debit:
			entry, err = w.decoy.Transfer(ctx, s, amount, counterparty)
		case route == session.RouteHoneypot:
			entry, err = w.decoy.Deposit(ctx, s, amount, counterparty)
		case dir == ledger.Debit:
			entry, err = w.ledger.Debit(ctx, s, amount, counterparty)
		default:
			entry, err = w.ledger.Credit(ctx, s, amount, counterparty)
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return session.KeepChanges(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if w.broadcast != nil {
		w.broadcast.BroadcastTransaction(id, entry)
	}
	tx := publicTransaction(entry)
	logging.L(ctx).Info("wallet operation completed",
		"session_id", id,
		"type", tx.Type,
		"amount", amount.StringFixed(2),
	)
	return &Receipt{Transaction: tx, Message: message(dir, amount)}, nil
}

func message(dir ledger.Direction, amount decimal.Decimal) string {
	if dir == ledger.Debit {
		return fmt.Sprintf("Transfer of ₹%s successful", amount.StringFixed(2))
	}
	return fmt.Sprintf("₹%s added to wallet", amount.StringFixed(2))
}

// History returns the session wallet's latest transactions.
func (w *Service) History(ctx context.Context, id string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	var entries []*ledger.Entry
	_, err := w.sessions.Update(ctx, id, func(s *session.Session) error {
		route, err := routeOf(s)
		if err != nil {
			return err
		}
		if route == session.RouteHoneypot {
			entries = w.decoy.History(ctx, s, limit)
			return nil
		}
		entries, err = w.ledger.History(ctx, s.Mobile, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(entries))
	for _, e := range entries {
		out = append(out, publicTransaction(e))
	}
	return out, nil
}

// DecoyPortfolio serves the decoy net-worth page regardless of route.
func (w *Service) DecoyPortfolio(ctx context.Context, id string) (*honeypot.Portfolio, error) {
	var p honeypot.Portfolio
	_, err := w.sessions.Update(ctx, id, func(s *session.Session) error {
		p = w.decoy.Portfolio(ctx, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DecoyTrack records a decoy-page action regardless of route.
func (w *Service) DecoyTrack(ctx context.Context, id, action string, details map[string]any) error {
	_, err := w.sessions.Update(ctx, id, func(s *session.Session) error {
		return w.decoy.Track(ctx, s, action, details)
	})
	return err
}

// DecoyTransfer runs a transfer on the decoy page regardless of route.
func (w *Service) DecoyTransfer(ctx context.Context, id string, amount decimal.Decimal, recipient string) (*Receipt, error) {
	var entry *ledger.Entry
	_, err := w.sessions.Update(ctx, id, func(s *session.Session) error {
		var err error
		entry, err = w.decoy.Transfer(ctx, s, amount, recipient)
		return err
	})
	if err != nil {
		return nil, err
	}
	if w.broadcast != nil {
		w.broadcast.BroadcastTransaction(id, entry)
	}
	tx := publicTransaction(entry)
	return &Receipt{Transaction: tx, Message: message(ledger.Debit, amount)}, nil
}

func publicTransaction(e *ledger.Entry) Transaction {
	status := string(e.Status)
	if e.Status == ledger.StatusMonitored {
		status = string(ledger.StatusCompleted)
	}
	typ := "sent"
	if e.Direction == ledger.Credit {
		typ = "added"
	}
	return Transaction{
		ID:           e.ID,
		Type:         typ,
		Amount:       e.Amount,
		Counterparty: e.Counterparty,
		Status:       status,
		BalanceAfter: e.BalanceAfter,
		Timestamp:    e.CreatedAt,
	}
}
