package audit

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/honeykyc/gateway/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []*Record // append order, oldest first
	bySession map[string][]int
}

// NewMemoryStore creates an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySession: make(map[string][]int)}
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.Amount != nil {
		a := *r.Amount
		c.Amount = &a
	}
	c.Details = maps.Clone(r.Details)
	return &c
}

func (m *MemoryStore) Append(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, cloneRecord(r))
	m.bySession[r.SessionID] = append(m.bySession[r.SessionID], len(m.records)-1)
	return nil
}

func (m *MemoryStore) ListBySession(ctx context.Context, sessionID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.bySession[sessionID]
	out := make([]*Record, 0, len(idx))
	for i := len(idx) - 1; i >= 0; i-- {
		out = append(out, cloneRecord(m.records[idx[i]]))
	}
	return out, nil
}

func (m *MemoryStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession[sessionID]), nil
}

func (m *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Record, error) {
	return m.ListPage(ctx, nil, limit)
}

func (m *MemoryStore) ListPage(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Record
	for _, r := range m.records {
		if cursor.Before(r.CreatedAt, r.ID) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Record, len(matched))
	for i, r := range matched {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}
