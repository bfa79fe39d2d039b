//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/testutil"
)

func TestPostgresStore_PostAndQuery(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	acct, err := store.Open(ctx, "9876543210", "Rahul Sharma", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "1000.00", acct.Balance.StringFixed(2))

	require.NoError(t, store.Post(ctx, &Entry{
		ID: "TXN000000000001", SessionID: "sess_1", Mobile: "9876543210", UserName: "Rahul Sharma",
		Direction: Debit, Amount: decimal.RequireFromString("250.25"), Counterparty: "Mule", CreatedAt: now,
	}))

	failed := &Entry{
		ID: "TXN000000000002", SessionID: "sess_1", Mobile: "9876543210",
		Direction: Debit, Amount: decimal.NewFromInt(5000), CreatedAt: now.Add(time.Second),
	}
	assert.ErrorIs(t, store.Post(ctx, failed), ErrInsufficientFunds)
	assert.Equal(t, StatusFailed, failed.Status)

	acct, err = store.Get(ctx, "9876543210")
	require.NoError(t, err)
	assert.Equal(t, "749.75", acct.Balance.StringFixed(2))

	hist, err := store.History(ctx, "9876543210", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "TXN000000000002", hist[0].ID)
	assert.Equal(t, ReasonInsufficientBalance, hist[0].Reason)
	assert.Equal(t, WalletReal, hist[1].Wallet)

	n, err := store.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get(ctx, "7000000001")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
