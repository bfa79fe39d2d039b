// Package identity checks a claimed name against the telecom subscriber
// directory. The directory is an external oracle; this package bounds every
// lookup and degrades to a low-confidence answer when the oracle misbehaves.
package identity

import (
	"context"
	"errors"
	"strings"
)

// ErrOracleUnavailable is logged and counted when a lookup fails. It never
// reaches callers of Adapter.Check.
var ErrOracleUnavailable = errors.New("identity: telecom oracle unavailable")

// UnknownOwner is the owner name the directory reports for unlisted numbers.
const UnknownOwner = "Unknown"

// Owner is the subscriber record for a mobile number.
type Owner struct {
	Name       string `json:"owner"`
	SimAgeDays int    `json:"sim_age"`
}

// Oracle resolves a mobile number to its registered subscriber.
type Oracle interface {
	Lookup(ctx context.Context, mobile string) (*Owner, error)
}

// Result is the outcome of an identity check.
type Result struct {
	Matched       bool
	TelecomOwner  string
	SimAgeDays    int
	LowConfidence bool
}

// Fallback is returned when the oracle cannot answer in time.
func Fallback() Result {
	return Result{Matched: false, SimAgeDays: 0, LowConfidence: true}
}

// NamesMatch compares names ignoring case and runs of whitespace.
func NamesMatch(a, b string) bool {
	na, nb := normalizeName(a), normalizeName(b)
	return na != "" && na == nb
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
