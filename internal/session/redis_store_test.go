package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	s := &Session{
		ID:           "sess_1",
		Mobile:       "9876543210",
		ClaimedName:  "Rahul Sharma",
		Identity:     &IdentityCheck{Matched: true, TelecomOwner: "Rahul Sharma", SimAgeDays: 1200},
		Signals:      []Signal{{Type: "copy_paste", Payload: map[string]any{"action": "paste"}, ObservedAt: now}},
		Route:        RouteReal,
		Status:       StatusActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, s.ClaimedName, got.ClaimedName)
	assert.Equal(t, 1200, got.Identity.SimAgeDays)
	assert.Equal(t, "paste", got.Signals[0].Payload["action"])
	assert.True(t, got.CreatedAt.Equal(now))
}

func TestRedisStore_GetMissing(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, time.Hour)

	_, err := store.Get(context.Background(), "sess_nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ListPrunesExpired(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, time.Minute).WithPrefix("test:")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Session{ID: "sess_a", CreatedAt: time.Now()}))
	require.NoError(t, store.Put(ctx, &Session{ID: "sess_b", CreatedAt: time.Now().Add(time.Second)}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sess_b", list[0].ID, "newest first")

	mr.FastForward(2 * time.Minute)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, err := client.SMembers(ctx, "test:sessions").Result()
	require.NoError(t, err)
	assert.Empty(t, members, "stale index entries are pruned")
}

func TestRedisStore_Delete(t *testing.T) {
	_, client := setupTestRedis(t)
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Session{ID: "sess_x"}))
	require.NoError(t, store.Delete(ctx, "sess_x"))

	_, err := store.Get(ctx, "sess_x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_BacksManager(t *testing.T) {
	_, client := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, time.Hour), quietLogger())
	ctx := context.Background()

	s, err := m.Create(ctx, "9876543210", "Rahul Sharma", false)
	require.NoError(t, err)

	_, err = m.Update(ctx, s.ID, func(s *Session) error {
		s.AppendSignal(Signal{Type: "mouse_movement", Payload: map[string]any{"count": 12}})
		return nil
	})
	require.NoError(t, err)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CountSignals("mouse_movement"))
}
