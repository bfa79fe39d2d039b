package risk

import (
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
)

// Inputs is everything a score depends on. Two equal Inputs always score
// the same.
type Inputs struct {
	IsNewAccount bool

	IdentityChecked bool
	IdentityMatched bool
	LowConfidence   bool
	SimAgeDays      int

	DeviceRecorded         bool
	VPNSuspected           bool
	Automated              bool
	FingerprintResubmitted bool

	// LoginMillis is the most recent login_speed duration; HasLoginSpeed
	// reports whether one was observed.
	LoginMillis   float64
	HasLoginSpeed bool

	CopyPasteEvents   int
	SuspiciousRecords int
}

// InputsFrom extracts scoring inputs from a session and the number of
// suspicious-activity records it has produced.
func InputsFrom(s *session.Session, suspiciousRecords int) Inputs {
	in := Inputs{
		IsNewAccount:           s.IsNewAccount,
		CopyPasteEvents:        s.CountSignals(signals.TypeCopyPaste),
		FingerprintResubmitted: s.CountSignals(signals.TypeDuplicateFingerprint) > 0,
		SuspiciousRecords:      suspiciousRecords,
	}
	if id := s.Identity; id != nil {
		in.IdentityChecked = true
		in.IdentityMatched = id.Matched
		in.LowConfidence = id.LowConfidence
		in.SimAgeDays = id.SimAgeDays
	}
	if d := s.Device; d != nil {
		in.DeviceRecorded = true
		in.VPNSuspected = d.VPNSuspected
		in.Automated = d.Automated
	}
	if sig, ok := s.LastSignal(signals.TypeLoginSpeed); ok {
		if ms, ok := signals.Number(sig.Payload["duration_ms"]); ok {
			in.LoginMillis = ms
			in.HasLoginSpeed = true
		}
	}
	return in
}

// Engine applies a Config to Inputs. It holds no mutable state.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. The config is expected to be validated.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Score computes the assessment for in.
func (e *Engine) Score(in Inputs) Assessment {
	fired := map[Factor]bool{
		FactorIdentityMismatch:       in.IdentityChecked && !in.IdentityMatched,
		FactorNewAccount:             in.IsNewAccount,
		FactorYoungSIM:               in.IdentityChecked && in.SimAgeDays < e.cfg.YoungSIMDays,
		FactorVPNSuspected:           in.VPNSuspected,
		FactorFastLogin:              in.HasLoginSpeed && in.LoginMillis < float64(e.cfg.FastLoginMillis),
		FactorExcessCopyPaste:        in.CopyPasteEvents >= e.cfg.CopyPasteThreshold,
		FactorHoneypotTrap:           in.SuspiciousRecords > 0,
		FactorLowConfidenceIdentity:  in.IdentityChecked && in.LowConfidence,
		FactorAutomationAgent:        in.Automated,
		FactorFingerprintResubmitted: in.FingerprintResubmitted,
	}

	a := Assessment{Factors: []FiredFactor{}}
	for _, f := range Factors {
		w := e.cfg.Weights[f]
		if !fired[f] || w == 0 {
			continue
		}
		a.Score += w
		a.Factors = append(a.Factors, FiredFactor{Factor: f, Weight: w, Description: f.Description()})
	}
	a.Score = clamp(a.Score, 0, 100)
	a.Level = e.cfg.LevelFor(a.Score)
	return a
}

// Deceive reports whether a level is severe enough for the honeypot.
func (e *Engine) Deceive(level Level) bool {
	return level.Rank() >= e.cfg.HoneypotLevel.Rank()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
