package risk

import (
	"context"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
	"github.com/honeykyc/gateway/internal/traces"
)

// trapSignals stand in for audit records when the audit store cannot be read.
var trapSignals = []string{signals.TypeHiddenTrap, signals.TypeHoneypotClick, signals.TypeAdminProbe}

// Assessor scores sessions and stores the latest result on them.
type Assessor struct {
	engine   *Engine
	sessions *session.Manager
	audit    audit.Store
}

// NewAssessor creates an assessor.
func NewAssessor(engine *Engine, sessions *session.Manager, auditStore audit.Store) *Assessor {
	return &Assessor{engine: engine, sessions: sessions, audit: auditStore}
}

// Engine returns the scoring engine.
func (a *Assessor) Engine() *Engine { return a.engine }

// Assess scores the session under its lock and records the result on it.
func (a *Assessor) Assess(ctx context.Context, id string) (Assessment, error) {
	var out Assessment
	_, err := a.sessions.Update(ctx, id, func(s *session.Session) error {
		out = a.Evaluate(ctx, s)
		return nil
	})
	if err != nil {
		return Assessment{}, err
	}
	return out, nil
}

// Evaluate scores s and overwrites its latest assessment. The caller must
// hold the session lock.
func (a *Assessor) Evaluate(ctx context.Context, s *session.Session) Assessment {
	ctx, span := traces.StartSpan(ctx, "risk.Evaluate", traces.SessionID(s.ID))
	defer span.End()

	as := a.engine.Score(InputsFrom(s, a.suspiciousCount(ctx, s)))

	now := a.sessions.Now()
	s.RiskScore = as.Score
	s.RiskLevel = string(as.Level)
	s.RiskFactors = as.FactorNames()
	s.AssessedAt = &now

	span.SetAttributes(traces.RiskScore(as.Score), traces.RiskLevel(string(as.Level)))
	metrics.RiskScore.Observe(float64(as.Score))
	metrics.RiskAssessmentsTotal.WithLabelValues(string(as.Level)).Inc()
	logging.L(ctx).Info("risk assessed",
		"session_id", s.ID,
		"score", as.Score,
		"level", as.Level,
		"factors", s.RiskFactors,
	)
	return as
}

func (a *Assessor) suspiciousCount(ctx context.Context, s *session.Session) int {
	n, err := a.audit.CountBySession(ctx, s.ID)
	if err == nil {
		return n
	}
	logging.L(ctx).Warn("audit count unavailable, scoring from trap signals",
		"session_id", s.ID,
		"error", err,
	)
	n = 0
	for _, t := range trapSignals {
		n += s.CountSignals(t)
	}
	return n
}
