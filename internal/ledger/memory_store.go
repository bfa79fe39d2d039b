package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	entries  []*Entry // append order, oldest first
	now      func() time.Time
}

// NewMemoryStore creates an in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account), now: time.Now}
}

func cloneAccount(a *Account) *Account {
	c := *a
	return &c
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	return &c
}

func (m *MemoryStore) Open(ctx context.Context, mobile, userName string, opening decimal.Decimal) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.accounts[mobile]; ok {
		return cloneAccount(a), nil
	}
	now := m.now()
	a := &Account{Mobile: mobile, UserName: userName, Balance: opening, CreatedAt: now, UpdatedAt: now}
	m.accounts[mobile] = a
	return cloneAccount(a), nil
}

func (m *MemoryStore) Get(ctx context.Context, mobile string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[mobile]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *MemoryStore) Post(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[e.Mobile]
	if !ok {
		return ErrAccountNotFound
	}

	var err error
	switch e.Direction {
	case Credit:
		a.Balance = a.Balance.Add(e.Amount)
		e.Status = StatusCompleted
	case Debit:
		if e.Amount.GreaterThan(a.Balance) {
			e.Status = StatusFailed
			e.Reason = ReasonInsufficientBalance
			err = ErrInsufficientFunds
		} else {
			a.Balance = a.Balance.Sub(e.Amount)
			e.Status = StatusCompleted
		}
	}
	a.UpdatedAt = m.now()
	e.BalanceAfter = a.Balance
	m.entries = append(m.entries, cloneEntry(e))
	return err
}

func (m *MemoryStore) History(ctx context.Context, mobile string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].Mobile == mobile {
			out = append(out, cloneEntry(m.entries[i]))
		}
	}
	return out, nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneEntry(m.entries[i]))
	}
	return out, nil
}

func (m *MemoryStore) Accounts(ctx context.Context) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mobile < out[j].Mobile })
	return out, nil
}

func (m *MemoryStore) CountEntries(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
