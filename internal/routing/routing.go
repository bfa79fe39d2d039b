// Package routing commits each session to the real wallet or the honeypot.
// The first decision is final: later calls return it without rescoring, so
// fresh low-risk signals cannot talk a flagged session back into the real
// wallet.
package routing

import (
	"context"

	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/risk"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/traces"
)

// Observer is told about every newly committed route.
type Observer interface {
	RouteDecided(ctx context.Context, s *session.Session)
}

// Decision is the committed route for a session.
type Decision struct {
	Route      session.Route    `json:"route"`
	Sticky     bool             `json:"sticky"` // true when an earlier call committed it
	RiskScore  int              `json:"risk_score"`
	RiskLevel  string           `json:"risk_level"`
	Assessment *risk.Assessment `json:"-"`
}

// Decider commits routes under the session lock.
type Decider struct {
	sessions  *session.Manager
	assessor  *risk.Assessor
	observers []Observer
}

// NewDecider creates a decider.
func NewDecider(sessions *session.Manager, assessor *risk.Assessor, observers ...Observer) *Decider {
	return &Decider{sessions: sessions, assessor: assessor, observers: observers}
}

// Decide returns the session's route, committing one on the first call.
func (d *Decider) Decide(ctx context.Context, id string) (Decision, error) {
	ctx, span := traces.StartSpan(ctx, "routing.Decide", traces.SessionID(id))
	defer span.End()

	var dec Decision
	s, err := d.sessions.Update(ctx, id, func(s *session.Session) error {
		if s.Routed() {
			dec = Decision{Route: s.Route, Sticky: true, RiskScore: s.RiskScore, RiskLevel: s.RiskLevel}
			return nil
		}

		as := d.assessor.Evaluate(ctx, s)
		route := session.RouteReal
		if d.assessor.Engine().Deceive(as.Level) {
			route = session.RouteHoneypot
		}
		if err := s.CommitRoute(route, d.sessions.Now()); err != nil {
			return err
		}
		dec = Decision{Route: route, RiskScore: as.Score, RiskLevel: string(as.Level), Assessment: &as}
		return nil
	})
	if err != nil {
		traces.Fail(span, err)
		return Decision{}, err
	}
	span.SetAttributes(traces.Route(string(dec.Route)))

	if dec.Sticky {
		return dec, nil
	}

	metrics.RoutesCommittedTotal.WithLabelValues(string(dec.Route)).Inc()
	logging.L(ctx).Info("route committed",
		"session_id", id,
		"route", dec.Route,
		"risk_score", dec.RiskScore,
		"risk_level", dec.RiskLevel,
	)
	for _, o := range d.observers {
		o.RouteDecided(ctx, s)
	}
	return dec, nil
}
