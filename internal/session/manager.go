package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeykyc/gateway/internal/idgen"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/syncutil"
)

// Defaults for session lifetime.
const (
	DefaultIdleTimeout      = 30 * time.Minute
	DefaultArchiveRetention = 24 * time.Hour
)

// EndHook runs, under the session lock, after a session is archived.
type EndHook func(ctx context.Context, s *Session)

// keepChanges marks a mutator error whose mutation must still be persisted.
type keepChanges struct{ err error }

func (k *keepChanges) Error() string { return k.err.Error() }
func (k *keepChanges) Unwrap() error { return k.err }

// KeepChanges wraps err so Update persists the mutation and then returns err.
// A rejected debit uses it to keep the failed-transaction signal it appended.
func KeepChanges(err error) error {
	if err == nil {
		return nil
	}
	return &keepChanges{err: err}
}

// Manager serializes all mutations of a session behind a per-session lock
// and enforces lifecycle rules. Reads for the dashboard bypass the locks.
type Manager struct {
	store       Store
	locks       *syncutil.KeyedMutex
	logger      *slog.Logger
	idleTimeout time.Duration
	retention   time.Duration
	now         func() time.Time
	onEnd       []EndHook
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout sets how long a session may sit idle before it expires.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithArchiveRetention sets how long archived sessions stay visible.
func WithArchiveRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager over store.
func NewManager(store Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		locks:       syncutil.NewKeyedMutex(syncutil.DefaultShards),
		logger:      logger,
		idleTimeout: DefaultIdleTimeout,
		retention:   DefaultArchiveRetention,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnEnd registers a hook run whenever a session is archived.
func (m *Manager) OnEnd(h EndHook) {
	m.onEnd = append(m.onEnd, h)
}

// IdleTimeout returns the configured idle timeout.
func (m *Manager) IdleTimeout() time.Duration { return m.idleTimeout }

// Now returns the manager clock.
func (m *Manager) Now() time.Time { return m.now() }

// Create starts a new session with an undecided route.
func (m *Manager) Create(ctx context.Context, mobile, claimedName string, isNewAccount bool) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:           idgen.WithPrefix("sess_"),
		Mobile:       mobile,
		ClaimedName:  claimedName,
		IsNewAccount: isNewAccount,
		Signals:      []Signal{},
		Route:        RouteUndecided,
		Status:       StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.SessionsCreatedTotal.Inc()
	logging.L(ctx).Info("session created",
		"session_id", s.ID,
		"mobile", logging.MaskMobile(mobile),
		"new_account", isNewAccount,
	)
	return s.Clone(), nil
}

// Get returns a copy of a live session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkLive(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns a copy of any stored session, archived ones included.
// Admin views use it.
func (m *Manager) Lookup(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) checkLive(s *Session) error {
	switch s.Status {
	case StatusLoggedOut:
		return ErrNotFound
	case StatusExpired:
		return ErrSessionExpired
	}
	if s.IdleSince(m.now(), m.idleTimeout) {
		return ErrSessionExpired
	}
	return nil
}

// Update runs fn against the session under its lock and persists the result
// when fn returns nil. Any other error discards the mutation, except errors
// wrapped with KeepChanges. The returned session is a copy of what was stored.
func (m *Manager) Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkLive(s); err != nil {
		return nil, err
	}

	fnErr := fn(s)
	var kc *keepChanges
	if fnErr != nil && !errors.As(fnErr, &kc) {
		return nil, fnErr
	}

	s.LastActiveAt = m.now()
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if kc != nil {
		return s.Clone(), kc.err
	}
	return s.Clone(), nil
}

// Logout archives a live session as logged out.
func (m *Manager) Logout(ctx context.Context, id string) (*Session, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkLive(s); err != nil {
		return nil, err
	}
	if err := m.archive(ctx, s, StatusLoggedOut); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// archive marks s ended and runs hooks. Caller holds the session lock.
func (m *Manager) archive(ctx context.Context, s *Session, status Status) error {
	now := m.now()
	s.Status = status
	s.EndedAt = &now
	if err := m.store.Put(ctx, s); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	for _, h := range m.onEnd {
		h(ctx, s)
	}
	metrics.SessionsEndedTotal.WithLabelValues(string(status)).Inc()
	m.logger.Info("session archived",
		"session_id", s.ID,
		"status", status,
		"route", s.Route,
	)
	return nil
}

// Snapshot returns copies of all stored sessions without taking session
// locks. The result is eventually consistent.
func (m *Manager) Snapshot(ctx context.Context) ([]*Session, error) {
	return m.store.List(ctx)
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Expired int
	Purged  int
	Active  int
}

// Sweep archives idle sessions as expired and purges archives older than the
// retention window. Each session is re-read under its lock before it is
// touched, so a request that refreshed it in the meantime wins.
func (m *Manager) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	all, err := m.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list sessions: %w", err)
	}

	for _, snap := range all {
		now := m.now()
		switch {
		case snap.Active() && snap.IdleSince(now, m.idleTimeout):
			expired, err := m.expire(ctx, snap.ID)
			if err != nil {
				m.logger.Warn("failed to expire session", "session_id", snap.ID, "error", err)
				res.Active++
				continue
			}
			if expired {
				res.Expired++
			} else {
				res.Active++
			}
		case snap.Active():
			res.Active++
		case snap.EndedAt != nil && m.retention > 0 && now.Sub(*snap.EndedAt) > m.retention:
			if err := m.purge(ctx, snap.ID); err != nil {
				m.logger.Warn("failed to purge session", "session_id", snap.ID, "error", err)
				continue
			}
			res.Purged++
		}
	}

	metrics.ActiveSessions.Set(float64(res.Active))
	return res, nil
}

func (m *Manager) expire(ctx context.Context, id string) (bool, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.Active() || !s.IdleSince(m.now(), m.idleTimeout) {
		return false, nil
	}
	return true, m.archive(ctx, s, StatusExpired)
}

func (m *Manager) purge(ctx context.Context, id string) error {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return m.store.Delete(ctx, id)
}
