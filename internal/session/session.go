// Package session owns the lifecycle of verification sessions: creation,
// serialized per-session mutation, logout, and idle-timeout eviction.
package session

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	ErrNotFound               = errors.New("session: not found")
	ErrSessionExpired         = errors.New("session: expired")
	ErrIdentityAlreadyChecked = errors.New("session: identity already checked")
	ErrDeviceAlreadySet       = errors.New("session: device fingerprint already recorded")
	ErrRouteAlreadyCommitted  = errors.New("session: route already committed")
)

// Route is the wallet a session has been sent to.
type Route string

const (
	RouteUndecided Route = "UNDECIDED"
	RouteReal      Route = "REAL"
	RouteHoneypot  Route = "HONEYPOT"
)

// Status tracks whether a session is live or archived.
type Status string

const (
	StatusActive    Status = "active"
	StatusLoggedOut Status = "logged_out"
	StatusExpired   Status = "expired"
)

// IdentityCheck is the outcome of the telecom ownership lookup.
type IdentityCheck struct {
	Matched       bool      `json:"matched"`
	TelecomOwner  string    `json:"telecom_owner"`
	SimAgeDays    int       `json:"sim_age_days"`
	LowConfidence bool      `json:"low_confidence"`
	CheckedAt     time.Time `json:"checked_at"`
}

// DeviceFingerprint is the normalized device description submitted once per session.
type DeviceFingerprint struct {
	Hash             string    `json:"hash"`
	UserAgent        string    `json:"user_agent"`
	Platform         string    `json:"platform"`
	Language         string    `json:"language"`
	ScreenResolution string    `json:"screen_resolution"`
	ColorDepth       int       `json:"color_depth"`
	Timezone         string    `json:"timezone"`
	TouchSupport     bool      `json:"touch_support"`
	CookiesEnabled   bool      `json:"cookies_enabled"`
	LocalStorage     bool      `json:"local_storage"`
	SessionStorage   bool      `json:"session_storage"`
	ClientIP         string    `json:"client_ip"`
	Browser          string    `json:"browser"`
	OS               string    `json:"os"`
	Mobile           bool      `json:"mobile_device"`
	Automated        bool      `json:"automated"`
	VPNSuspected     bool      `json:"vpn_suspected"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Signal is one observed behavioral event.
type Signal struct {
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
}

// Session is the per-login aggregate every other component reads or mutates.
type Session struct {
	ID           string             `json:"id"`
	Mobile       string             `json:"mobile"`
	ClaimedName  string             `json:"claimed_name"`
	IsNewAccount bool               `json:"is_new_account"`
	Identity     *IdentityCheck     `json:"identity,omitempty"`
	Device       *DeviceFingerprint `json:"device,omitempty"`
	Signals      []Signal           `json:"signals"`
	RiskScore    int                `json:"risk_score"`
	RiskLevel    string             `json:"risk_level,omitempty"`
	RiskFactors  []string           `json:"risk_factors,omitempty"`
	AssessedAt   *time.Time         `json:"assessed_at,omitempty"`
	Route        Route              `json:"route"`
	RoutedAt     *time.Time         `json:"routed_at,omitempty"`
	Status       Status             `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActiveAt time.Time          `json:"last_active_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	if s.Device != nil {
		d := *s.Device
		c.Device = &d
	}
	if s.Signals != nil {
		c.Signals = make([]Signal, len(s.Signals))
		for i, sig := range s.Signals {
			sig.Payload = maps.Clone(sig.Payload)
			c.Signals[i] = sig
		}
	}
	if s.RiskFactors != nil {
		c.RiskFactors = append([]string(nil), s.RiskFactors...)
	}
	c.AssessedAt = cloneTime(s.AssessedAt)
	c.RoutedAt = cloneTime(s.RoutedAt)
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// SetIdentity records the identity check. It may happen once.
func (s *Session) SetIdentity(ic IdentityCheck) error {
	if s.Identity != nil {
		return ErrIdentityAlreadyChecked
	}
	s.Identity = &ic
	return nil
}

// SetDevice records the device fingerprint. It may happen once.
func (s *Session) SetDevice(fp DeviceFingerprint) error {
	if s.Device != nil {
		return ErrDeviceAlreadySet
	}
	s.Device = &fp
	return nil
}

// AppendSignal adds to the append-only signal log.
func (s *Session) AppendSignal(sig Signal) {
	s.Signals = append(s.Signals, sig)
}

// CountSignals counts signals of the given type.
func (s *Session) CountSignals(typ string) int {
	n := 0
	for _, sig := range s.Signals {
		if sig.Type == typ {
			n++
		}
	}
	return n
}

// LastSignal returns the most recent signal of the given type.
func (s *Session) LastSignal(typ string) (Signal, bool) {
	for i := len(s.Signals) - 1; i >= 0; i-- {
		if s.Signals[i].Type == typ {
			return s.Signals[i], true
		}
	}
	return Signal{}, false
}

// Routed reports whether the routing decision has been committed.
func (s *Session) Routed() bool {
	return s.Route == RouteReal || s.Route == RouteHoneypot
}

// CommitRoute fixes the route. A committed route is never revisited.
func (s *Session) CommitRoute(r Route, at time.Time) error {
	if s.Routed() {
		return ErrRouteAlreadyCommitted
	}
	s.Route = r
	s.RoutedAt = &at
	return nil
}

// Active reports whether the session has not been archived.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// IdleSince reports whether the session has been idle longer than timeout at now.
func (s *Session) IdleSince(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(s.LastActiveAt) > timeout
}

// Store persists sessions. Implementations return copies; callers own what
// they receive and must Put to persist changes.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}
