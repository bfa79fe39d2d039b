// Package idgen generates identifiers for sessions, records and ledger entries.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// New returns a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix + 24 hex chars (12 random bytes), e.g. "sess_", "sar_".
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// TransactionID returns a customer-facing transaction reference such as
// "TXN3F9A1C0B2D4E". Both wallets use the same shape.
func TransactionID() string {
	u := uuid.New()
	return "TXN" + strings.ToUpper(hex.EncodeToString(u[:6]))
}
