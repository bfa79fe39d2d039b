package routing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/risk"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
)

type recordingObserver struct {
	mu     sync.Mutex
	routes []session.Route
}

func (r *recordingObserver) RouteDecided(_ context.Context, s *session.Session) {
	r.mu.Lock()
	r.routes = append(r.routes, s.Route)
	r.mu.Unlock()
}

type fixture struct {
	sessions *session.Manager
	decider  *Decider
	observer *recordingObserver
}

func newFixture() *fixture {
	sessions := session.NewManager(session.NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assessor := risk.NewAssessor(risk.NewEngine(risk.DefaultConfig()), sessions, audit.NewMemoryStore())
	obs := &recordingObserver{}
	return &fixture{sessions: sessions, decider: NewDecider(sessions, assessor, obs), observer: obs}
}

func (f *fixture) start(t *testing.T, mobile, name string, newAccount bool, id session.IdentityCheck) string {
	t.Helper()
	ctx := context.Background()
	s, err := f.sessions.Create(ctx, mobile, name, newAccount)
	require.NoError(t, err)
	_, err = f.sessions.Update(ctx, s.ID, func(s *session.Session) error { return s.SetIdentity(id) })
	require.NoError(t, err)
	return s.ID
}

func (f *fixture) loginSpeed(t *testing.T, id string, ms float64) {
	t.Helper()
	_, err := f.sessions.Update(context.Background(), id, func(s *session.Session) error {
		s.AppendSignal(session.Signal{Type: signals.TypeLoginSpeed, Payload: map[string]any{"duration_ms": ms}})
		return nil
	})
	require.NoError(t, err)
}

func TestDecide_LegitimateUserGoesReal(t *testing.T) {
	f := newFixture()
	id := f.start(t, "9876543210", "Rahul Sharma", false,
		session.IdentityCheck{Matched: true, TelecomOwner: "Rahul Sharma", SimAgeDays: 1200})

	dec, err := f.decider.Decide(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.RouteReal, dec.Route)
	assert.Equal(t, 0, dec.RiskScore)
	assert.Equal(t, "LOW", dec.RiskLevel)
	assert.False(t, dec.Sticky)
}

func TestDecide_FraudScenarioGoesHoneypot(t *testing.T) {
	f := newFixture()
	id := f.start(t, "8888888888", "Fake Name", true,
		session.IdentityCheck{Matched: false, TelecomOwner: "Vikram Malhotra", SimAgeDays: 400})
	f.loginSpeed(t, id, 300)

	dec, err := f.decider.Decide(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 65, dec.RiskScore)
	assert.Equal(t, "HIGH", dec.RiskLevel)
	assert.Equal(t, session.RouteHoneypot, dec.Route)

	s, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.RouteHoneypot, s.Route)
	assert.NotNil(t, s.RoutedAt)
	assert.Equal(t, []session.Route{session.RouteHoneypot}, f.observer.routes)
}

func TestDecide_MediumRiskStaysReal(t *testing.T) {
	f := newFixture()
	id := f.start(t, "8888888888", "Fake Name", true,
		session.IdentityCheck{Matched: false, TelecomOwner: "Vikram Malhotra", SimAgeDays: 400})

	dec, err := f.decider.Decide(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 55, dec.RiskScore)
	assert.Equal(t, session.RouteReal, dec.Route, "score above 50 alone does not route to the honeypot")
}

func TestDecide_IsSticky(t *testing.T) {
	f := newFixture()
	id := f.start(t, "8888888888", "Fake Name", true,
		session.IdentityCheck{Matched: false, SimAgeDays: 400})
	f.loginSpeed(t, id, 300)
	ctx := context.Background()

	first, err := f.decider.Decide(ctx, id)
	require.NoError(t, err)
	require.Equal(t, session.RouteHoneypot, first.Route)

	// New slow, human-looking login data must not reroute.
	f.loginSpeed(t, id, 9000)
	second, err := f.decider.Decide(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.RouteHoneypot, second.Route)
	assert.True(t, second.Sticky)
	assert.Len(t, f.observer.routes, 1, "observers hear about a route once")
}

func TestDecide_ConcurrentCallsCommitOneRoute(t *testing.T) {
	f := newFixture()
	id := f.start(t, "8888888888", "Fake Name", true,
		session.IdentityCheck{Matched: false, SimAgeDays: 400})
	f.loginSpeed(t, id, 300)

	var wg sync.WaitGroup
	results := make([]session.Route, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dec, err := f.decider.Decide(context.Background(), id)
			if err == nil {
				results[i] = dec.Route
			}
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, session.RouteHoneypot, r)
	}
	assert.Len(t, f.observer.routes, 1)
}

func TestDecide_UnknownSession(t *testing.T) {
	f := newFixture()
	_, err := f.decider.Decide(context.Background(), "sess_missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
