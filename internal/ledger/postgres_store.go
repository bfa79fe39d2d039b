package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore persists wallet accounts and entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const (
	accountColumns = `mobile, user_name, balance, created_at, updated_at`
	entryColumns   = `id, session_id, mobile, user_name, direction, amount, counterparty, status, reason, balance_after, created_at`
)

func (s *PostgresStore) Open(ctx context.Context, mobile, userName string, opening decimal.Decimal) (*Account, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_accounts (mobile, user_name, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (mobile) DO NOTHING
	`, mobile, userName, opening)
	if err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}
	return s.Get(ctx, mobile)
}

func (s *PostgresStore) Get(ctx context.Context, mobile string) (*Account, error) {
	a := &Account{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts WHERE mobile = $1`, mobile,
	).Scan(&a.Mobile, &a.UserName, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// Post locks the account row for the duration of the balance check so
// concurrent debits cannot overdraw it.
func (s *PostgresStore) Post(ctx context.Context, e *Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM wallet_accounts WHERE mobile = $1 FOR UPDATE`, e.Mobile,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}

	var result error
	switch e.Direction {
	case Credit:
		balance = balance.Add(e.Amount)
		e.Status = StatusCompleted
	case Debit:
		if e.Amount.GreaterThan(balance) {
			e.Status = StatusFailed
			e.Reason = ReasonInsufficientBalance
			result = ErrInsufficientFunds
		} else {
			balance = balance.Sub(e.Amount)
			e.Status = StatusCompleted
		}
	default:
		return fmt.Errorf("unknown direction %q", e.Direction)
	}
	e.BalanceAfter = balance

	if result == nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE wallet_accounts SET balance = $2, updated_at = NOW() WHERE mobile = $1`,
			e.Mobile, balance)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.ID, e.SessionID, e.Mobile, e.UserName, string(e.Direction), e.Amount,
		e.Counterparty, string(e.Status), e.Reason, e.BalanceAfter, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return result
}

func (s *PostgresStore) History(ctx context.Context, mobile string, limit int) ([]*Entry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE mobile = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, mobile, limit)
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM wallet_accounts ORDER BY mobile`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.Mobile, &a.UserName, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Entry
	for rows.Next() {
		e := &Entry{Wallet: WalletReal}
		var dir, status string
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Mobile, &e.UserName, &dir, &e.Amount,
			&e.Counterparty, &status, &e.Reason, &e.BalanceAfter, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Direction, e.Status = Direction(dir), Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
