package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	return NewManager(NewMemoryStore(), quietLogger(),
		WithIdleTimeout(30*time.Minute),
		WithArchiveRetention(time.Hour),
		WithClock(clock.Now),
	)
}

func TestManager_CreateAndGet(t *testing.T) {
	m := newTestManager(t, newFakeClock())
	ctx := context.Background()

	s, err := m.Create(ctx, "9876543210", "Rahul Sharma", false)
	require.NoError(t, err)
	assert.Contains(t, s.ID, "sess_")
	assert.Equal(t, RouteUndecided, s.Route)
	assert.Equal(t, StatusActive, s.Status)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rahul Sharma", got.ClaimedName)
}

func TestManager_GetUnknown(t *testing.T) {
	m := newTestManager(t, newFakeClock())
	_, err := m.Get(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_UpdateIsAllOrNothing(t *testing.T) {
	m := newTestManager(t, newFakeClock())
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	boom := errors.New("boom")
	_, err := m.Update(ctx, s.ID, func(s *Session) error {
		s.AppendSignal(Signal{Type: "mouse_movement"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := m.Get(ctx, s.ID)
	assert.Empty(t, got.Signals, "failed mutator must not persist")

	updated, err := m.Update(ctx, s.ID, func(s *Session) error {
		s.AppendSignal(Signal{Type: "mouse_movement"})
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, updated.Signals, 1)
}

func TestManager_UpdateKeepChanges(t *testing.T) {
	m := newTestManager(t, newFakeClock())
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	rejected := errors.New("rejected")
	updated, err := m.Update(ctx, s.ID, func(s *Session) error {
		s.AppendSignal(Signal{Type: "failed_transaction"})
		return KeepChanges(rejected)
	})
	assert.ErrorIs(t, err, rejected)
	require.NotNil(t, updated)

	got, _ := m.Get(ctx, s.ID)
	assert.Equal(t, 1, got.CountSignals("failed_transaction"))
}

func TestManager_UpdateRefreshesActivity(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	clock.Advance(20 * time.Minute)
	_, err := m.Update(ctx, s.ID, func(*Session) error { return nil })
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, err = m.Get(ctx, s.ID)
	assert.NoError(t, err, "activity 20m ago is within the 30m idle timeout")
}

func TestManager_IdleSessionExpires(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	clock.Advance(31 * time.Minute)

	_, err := m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = m.Update(ctx, s.ID, func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestManager_ConcurrentUpdatesSerialize(t *testing.T) {
	m := newTestManager(t, newFakeClock())
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, s.ID, func(s *Session) error {
				s.AppendSignal(Signal{Type: "copy_paste"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _ := m.Get(ctx, s.ID)
	assert.Len(t, got.Signals, n, "no signal may be lost under concurrency")
}

func TestManager_Logout(t *testing.T) {
	m := newTestManager(t, newFakeClock())
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	var hooked string
	m.OnEnd(func(_ context.Context, s *Session) { hooked = s.ID })

	ended, err := m.Logout(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLoggedOut, ended.Status)
	assert.NotNil(t, ended.EndedAt)
	assert.Equal(t, s.ID, hooked)

	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	archived, err := m.Lookup(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLoggedOut, archived.Status)
}

func TestManager_SweepExpiresAndPurges(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()

	idle, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)
	clock.Advance(20 * time.Minute)
	fresh, _ := m.Create(ctx, "8888888888", "Amit Kumar", true)
	clock.Advance(11 * time.Minute)

	var ended []string
	m.OnEnd(func(_ context.Context, s *Session) { ended = append(ended, s.ID) })

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 1, res.Active)
	assert.Equal(t, []string{idle.ID}, ended)

	_, err = m.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = m.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	clock.Advance(2 * time.Hour)
	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged, "expired archive past retention is purged")
	assert.Equal(t, 1, res.Expired, "the second session went idle too")

	_, err = m.Lookup(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_SweepRespectsConcurrentActivity(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock)
	ctx := context.Background()
	s, _ := m.Create(ctx, "9876543210", "Rahul Sharma", false)

	clock.Advance(31 * time.Minute)

	// Simulate a write that landed after the sweeper's snapshot.
	stored, _ := m.store.Get(ctx, s.ID)
	stored.LastActiveAt = clock.Now()
	require.NoError(t, m.store.Put(ctx, stored))

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Expired)
}

func TestSession_InvariantsOnce(t *testing.T) {
	s := &Session{Route: RouteUndecided}

	require.NoError(t, s.SetIdentity(IdentityCheck{Matched: true}))
	assert.ErrorIs(t, s.SetIdentity(IdentityCheck{}), ErrIdentityAlreadyChecked)

	require.NoError(t, s.SetDevice(DeviceFingerprint{Hash: "a"}))
	assert.ErrorIs(t, s.SetDevice(DeviceFingerprint{Hash: "b"}), ErrDeviceAlreadySet)
	assert.Equal(t, "a", s.Device.Hash)

	now := time.Now()
	require.NoError(t, s.CommitRoute(RouteHoneypot, now))
	assert.ErrorIs(t, s.CommitRoute(RouteReal, now), ErrRouteAlreadyCommitted)
	assert.Equal(t, RouteHoneypot, s.Route)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := &Session{
		Identity: &IdentityCheck{TelecomOwner: "A"},
		Signals:  []Signal{{Type: "page_view", Payload: map[string]any{"page": "home"}}},
	}
	c := s.Clone()
	c.Identity.TelecomOwner = "B"
	c.Signals[0].Payload["page"] = "admin"
	c.Signals = append(c.Signals, Signal{Type: "x"})

	assert.Equal(t, "A", s.Identity.TelecomOwner)
	assert.Equal(t, "home", s.Signals[0].Payload["page"])
	assert.Len(t, s.Signals, 1)
}
