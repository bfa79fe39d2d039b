package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/honeykyc/gateway/internal/circuitbreaker"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/traces"
)

// DefaultTimeout bounds a single oracle lookup including retries.
const DefaultTimeout = 2 * time.Second

// Adapter wraps an Oracle with a deadline and a circuit breaker.
type Adapter struct {
	oracle  Oracle
	breaker *circuitbreaker.Breaker
	timeout time.Duration
}

// NewAdapter creates an adapter. A nil breaker disables breaking.
func NewAdapter(oracle Oracle, breaker *circuitbreaker.Breaker, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{oracle: oracle, breaker: breaker, timeout: timeout}
}

// Breaker returns the adapter's circuit breaker, possibly nil.
func (a *Adapter) Breaker() *circuitbreaker.Breaker { return a.breaker }

// Check looks up mobile and compares the registered owner with claimedName.
// It always returns a usable result; lookup failures yield Fallback.
func (a *Adapter) Check(ctx context.Context, mobile, claimedName string) Result {
	ctx, span := traces.StartSpan(ctx, "identity.Check")
	defer span.End()

	owner, err := a.lookup(ctx, mobile)
	if err != nil {
		traces.Fail(span, err)
		metrics.OracleLookupsTotal.WithLabelValues("fallback").Inc()
		logging.L(ctx).Warn("telecom lookup failed, using low-confidence fallback",
			"mobile", logging.MaskMobile(mobile),
			"error", err,
		)
		return Fallback()
	}

	metrics.OracleLookupsTotal.WithLabelValues("ok").Inc()
	return Result{
		Matched:      NamesMatch(owner.Name, claimedName),
		TelecomOwner: owner.Name,
		SimAgeDays:   owner.SimAgeDays,
	}
}

func (a *Adapter) lookup(ctx context.Context, mobile string) (*Owner, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.OracleLatency)
	defer timer.ObserveDuration()

	owner, err := circuitbreaker.Execute(a.breaker, func() (*Owner, error) {
		return a.oracle.Lookup(ctx, mobile)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	if owner == nil {
		return nil, errors.Join(ErrOracleUnavailable, errors.New("empty answer"))
	}
	return owner, nil
}
