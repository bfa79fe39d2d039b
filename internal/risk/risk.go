// Package risk scores a verification session from its identity check,
// device fingerprint and behavioral signals.
//
// Every factor carries an integer weight and fires only when its condition
// holds. The score is the sum of fired weights clamped to [0, 100] and maps
// to a level through configurable thresholds. Weights and thresholds are
// configuration, so tuning never needs a code change.
package risk

import (
	"errors"
	"fmt"
	"strings"
)

// Level buckets a score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels; unknown values rank lowest.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if l.Rank() == 0 {
		return "", fmt.Errorf("risk: unknown level %q", s)
	}
	return l, nil
}

// Factor names one scoring rule.
type Factor string

const (
	FactorIdentityMismatch       Factor = "identity_mismatch"
	FactorNewAccount             Factor = "new_account"
	FactorYoungSIM               Factor = "young_sim"
	FactorVPNSuspected           Factor = "vpn_suspected"
	FactorFastLogin              Factor = "fast_login"
	FactorExcessCopyPaste        Factor = "excess_copy_paste"
	FactorHoneypotTrap           Factor = "honeypot_trap"
	FactorLowConfidenceIdentity  Factor = "low_confidence_identity"
	FactorAutomationAgent        Factor = "automation_agent"
	FactorFingerprintResubmitted Factor = "fingerprint_resubmitted"
)

// Factors lists every factor in the order assessments report them.
var Factors = []Factor{
	FactorIdentityMismatch,
	FactorNewAccount,
	FactorYoungSIM,
	FactorVPNSuspected,
	FactorFastLogin,
	FactorExcessCopyPaste,
	FactorHoneypotTrap,
	FactorLowConfidenceIdentity,
	FactorAutomationAgent,
	FactorFingerprintResubmitted,
}

var descriptions = map[Factor]string{
	FactorIdentityMismatch:       "Name does not match telecom records",
	FactorNewAccount:             "New account",
	FactorYoungSIM:               "SIM card activated recently",
	FactorVPNSuspected:           "VPN or proxy suspected",
	FactorFastLogin:              "Login completed faster than a human could type",
	FactorExcessCopyPaste:        "Excessive copy-paste activity",
	FactorHoneypotTrap:           "Honeypot trap triggered",
	FactorLowConfidenceIdentity:  "Identity could not be verified",
	FactorAutomationAgent:        "Automated or headless browser",
	FactorFingerprintResubmitted: "Device fingerprint resubmitted",
}

// Description returns the human-readable explanation of f.
func (f Factor) Description() string { return descriptions[f] }

// DefaultWeights are the stock factor weights.
func DefaultWeights() map[Factor]int {
	return map[Factor]int{
		FactorIdentityMismatch:       30,
		FactorNewAccount:             25,
		FactorYoungSIM:               15,
		FactorVPNSuspected:           15,
		FactorFastLogin:              10,
		FactorExcessCopyPaste:        10,
		FactorHoneypotTrap:           20,
		FactorLowConfidenceIdentity:  10,
		FactorAutomationAgent:        20,
		FactorFingerprintResubmitted: 10,
	}
}

// Thresholds are the lowest scores of the MEDIUM, HIGH and CRITICAL levels.
type Thresholds struct {
	Medium   int
	High     int
	Critical int
}

// Config tunes the engine.
type Config struct {
	Weights            map[Factor]int
	Thresholds         Thresholds
	FastLoginMillis    int
	CopyPasteThreshold int
	YoungSIMDays       int
	HoneypotLevel      Level
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		Thresholds:         Thresholds{Medium: 30, High: 60, Critical: 80},
		FastLoginMillis:    800,
		CopyPasteThreshold: 3,
		YoungSIMDays:       30,
		HoneypotLevel:      LevelHigh,
	}
}

// WithWeightOverrides returns a copy of c with the named weights replaced.
// Unknown factor names are rejected.
func (c Config) WithWeightOverrides(overrides map[string]int) (Config, error) {
	weights := make(map[Factor]int, len(c.Weights))
	for f, w := range c.Weights {
		weights[f] = w
	}
	for name, w := range overrides {
		f := Factor(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := descriptions[f]; !ok {
			return c, fmt.Errorf("risk: unknown factor %q", name)
		}
		weights[f] = w
	}
	c.Weights = weights
	return c, nil
}

// Validate rejects inconsistent configurations.
func (c Config) Validate() error {
	var errs []error
	for f, w := range c.Weights {
		if _, ok := descriptions[f]; !ok {
			errs = append(errs, fmt.Errorf("unknown factor %q", f))
		}
		if w < 0 || w > 100 {
			errs = append(errs, fmt.Errorf("weight for %s must be within 0..100, got %d", f, w))
		}
	}
	t := c.Thresholds
	if !(0 < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 100) {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 < medium < high < critical <= 100, got %d/%d/%d",
			t.Medium, t.High, t.Critical))
	}
	if c.FastLoginMillis < 0 || c.CopyPasteThreshold < 1 || c.YoungSIMDays < 0 {
		errs = append(errs, errors.New("fast-login, copy-paste and young-SIM limits must be non-negative (copy-paste at least 1)"))
	}
	if c.HoneypotLevel.Rank() < LevelMedium.Rank() {
		errs = append(errs, fmt.Errorf("honeypot level must be MEDIUM, HIGH or CRITICAL, got %q", c.HoneypotLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("risk config: %w", errors.Join(errs...))
	}
	return nil
}

// LevelFor maps a score to its level.
func (c Config) LevelFor(score int) Level {
	switch {
	case score >= c.Thresholds.Critical:
		return LevelCritical
	case score >= c.Thresholds.High:
		return LevelHigh
	case score >= c.Thresholds.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// FiredFactor is one factor that contributed to a score.
type FiredFactor struct {
	Factor      Factor `json:"factor"`
	Weight      int    `json:"weight"`
	Description string `json:"description"`
}

// Assessment is the outcome of scoring a session.
type Assessment struct {
	Score   int           `json:"risk_score"`
	Level   Level         `json:"risk_level"`
	Factors []FiredFactor `json:"factors"`
}

// FactorNames lists the fired factor names in report order.
func (a Assessment) FactorNames() []string {
	names := make([]string, len(a.Factors))
	for i, f := range a.Factors {
		names[i] = string(f.Factor)
	}
	return names
}

// Descriptions lists the fired factor descriptions in report order.
func (a Assessment) Descriptions() []string {
	out := make([]string, len(a.Factors))
	for i, f := range a.Factors {
		out[i] = f.Description
	}
	return out
}
