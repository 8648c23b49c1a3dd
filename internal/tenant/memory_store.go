package tenant

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	tenants map[string]*Tenant
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

// Put adds or replaces a tenant.
func (m *MemoryStore) Put(t *Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tenants[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrTenantNotFound
}
