package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vlourenco/pagera/internal/provider"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	entries  map[string]*Entry // id -> entry
	byKey    map[string]string // tenantID|idempotencyKey -> id
	byInv    map[string]string // provider|externalInvoiceID -> id
	byTenant map[string][]string
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*Entry),
		byKey:    make(map[string]string),
		byInv:    make(map[string]string),
		byTenant: make(map[string][]string),
	}
}

func keyIdx(tenantID, key string) string              { return tenantID + "|" + key }
func invIdx(p provider.Kind, invoiceID string) string { return string(p) + "|" + invoiceID }

func (m *MemoryStore) Create(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byKey[keyIdx(e.TenantID, e.IdempotencyKey)]; ok {
		return ErrDuplicateKey
	}
	if _, ok := m.byInv[invIdx(e.Provider, e.ExternalInvoiceID)]; ok {
		return ErrDuplicateInvoice
	}

	cp := *e
	m.entries[e.ID] = &cp
	m.byKey[keyIdx(e.TenantID, e.IdempotencyKey)] = e.ID
	m.byInv[invIdx(e.Provider, e.ExternalInvoiceID)] = e.ID
	m.byTenant[e.TenantID] = append(m.byTenant[e.TenantID], e.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok || e.TenantID != tenantID {
		return nil, ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[keyIdx(tenantID, key)]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *m.entries[id]
	return &cp, nil
}

func (m *MemoryStore) GetByExternalInvoice(ctx context.Context, p provider.Kind, externalInvoiceID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byInv[invIdx(p, externalInvoiceID)]
	if !ok {
		return nil, ErrEntryNotFound
	}
	cp := *m.entries[id]
	return &cp, nil
}

func (m *MemoryStore) UpdateSettlement(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[e.ID]
	if !ok {
		return ErrEntryNotFound
	}
	if cur.Version != e.Version {
		return ErrVersionConflict
	}

	cp := *e
	cp.Version = cur.Version + 1
	cp.UpdatedAt = time.Now()
	m.entries[e.ID] = &cp

	e.Version = cp.Version
	e.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *MemoryStore) ListByTenant(ctx context.Context, tenantID, afterID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byTenant[tenantID]
	result := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if afterID != "" && id >= afterID {
			continue
		}
		cp := *m.entries[id]
		result = append(result, &cp)
	}
	// Entry IDs are time-sortable; newest first.
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
