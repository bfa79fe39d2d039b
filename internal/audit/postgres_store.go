package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/honeykyc/gateway/internal/pagination"
)

// PostgresStore persists the suspicious-activity trail in PostgreSQL.
// The schema lives in migrations/ and is applied with cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, session_id, user_name, mobile, reason, kind, severity, amount, details, created_at`

func (s *PostgresStore) Append(ctx context.Context, r *Record) error {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	var amount decimal.NullDecimal
	if r.Amount != nil {
		amount = decimal.NullDecimal{Decimal: *r.Amount, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suspicious_activity (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		r.ID, r.SessionID, r.UserName, r.Mobile, r.Reason,
		string(r.Kind), string(r.Severity), amount, details, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append suspicious activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]*Record, error) {
	return s.query(ctx, `
		SELECT `+recordColumns+` FROM suspicious_activity
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
	`, sessionID)
}

func (s *PostgresStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suspicious_activity WHERE session_id = $1`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count suspicious activity: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	return s.ListPage(ctx, nil, limit)
}

func (s *PostgresStore) ListPage(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*Record, error) {
	if cursor == nil {
		return s.query(ctx, `
			SELECT `+recordColumns+` FROM suspicious_activity
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	}
	return s.query(ctx, `
		SELECT `+recordColumns+` FROM suspicious_activity
		WHERE (created_at, id) < ($1, $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, cursor.CreatedAt, cursor.ID, limit)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suspicious_activity`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count suspicious activity: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspicious activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		var (
			r       Record
			kind    string
			sev     string
			amount  decimal.NullDecimal
			details []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserName, &r.Mobile, &r.Reason,
			&kind, &sev, &amount, &details, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan suspicious activity: %w", err)
		}
		r.Kind = Kind(kind)
		r.Severity = Severity(sev)
		if amount.Valid {
			a := amount.Decimal
			r.Amount = &a
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &r.Details)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
