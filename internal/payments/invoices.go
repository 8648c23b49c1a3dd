package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vlourenco/pagera/internal/provider"
)

var ErrInvoiceNotFound = errors.New("payments: invoice not found")

// InvoiceRecord persists the provider-side invoice so an idempotent replay
// can return the original response, PIX details included.
type InvoiceRecord struct {
	ExternalID      string               `json:"externalInvoiceId"`
	Provider        provider.Kind        `json:"provider"`
	TenantID        string               `json:"tenantId"`
	EntryID         string               `json:"entryId"`
	Status          string               `json:"status"`
	Tax             string               `json:"tax,omitempty"`
	ProviderMessage string               `json:"providerMessage,omitempty"`
	PIX             *provider.PIXDetails `json:"pix,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
}

func newInvoiceRecord(tenantID, entryID string, inv *provider.Invoice) *InvoiceRecord {
	return &InvoiceRecord{
		ExternalID:      inv.ExternalID,
		Provider:        inv.Provider,
		TenantID:        tenantID,
		EntryID:         entryID,
		Status:          inv.Status,
		Tax:             inv.Tax,
		ProviderMessage: inv.ProviderMessage,
		PIX:             inv.PIX,
		CreatedAt:       time.Now(),
	}
}

// View renders the record in the provider invoice shape used by responses.
func (r *InvoiceRecord) View() *provider.Invoice {
	return &provider.Invoice{
		ExternalID:      r.ExternalID,
		Provider:        r.Provider,
		Status:          r.Status,
		Tax:             r.Tax,
		ProviderMessage: r.ProviderMessage,
		PIX:             r.PIX,
	}
}

// InvoiceStore persists invoice records.
type InvoiceStore interface {
	Create(ctx context.Context, rec *InvoiceRecord) error
	GetByEntry(ctx context.Context, entryID string) (*InvoiceRecord, error)
}

// MemoryInvoiceStore is an in-memory InvoiceStore.
type MemoryInvoiceStore struct {
	byEntry map[string]*InvoiceRecord
	mu      sync.RWMutex
}

// NewMemoryInvoiceStore creates a new in-memory invoice store.
func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{byEntry: make(map[string]*InvoiceRecord)}
}

func (m *MemoryInvoiceStore) Create(ctx context.Context, rec *InvoiceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.byEntry[rec.EntryID] = &cp
	return nil
}

func (m *MemoryInvoiceStore) GetByEntry(ctx context.Context, entryID string) (*InvoiceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byEntry[entryID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *rec
	return &cp, nil
}
