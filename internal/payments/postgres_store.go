package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vlourenco/pagera/internal/provider"
	"github.com/vlourenco/pagera/internal/txn"
)

// PostgresInvoiceStore implements InvoiceStore with PostgreSQL. PIX details
// are a JSONB blob; they are opaque payer-facing data, never queried.
type PostgresInvoiceStore struct {
	db *sql.DB
}

// NewPostgresInvoiceStore creates a new PostgreSQL-backed invoice store.
func NewPostgresInvoiceStore(db *sql.DB) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{db: db}
}

func (p *PostgresInvoiceStore) Create(ctx context.Context, rec *InvoiceRecord) error {
	var pix []byte
	if rec.PIX != nil {
		var err error
		pix, err = json.Marshal(rec.PIX)
		if err != nil {
			return fmt.Errorf("encode pix details: %w", err)
		}
	}

	_, err := txn.Q(ctx, p.db).ExecContext(ctx, `
		INSERT INTO external_invoices (
			external_id, provider, tenant_id, entry_id, status, tax,
			provider_message, pix, created_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NOW())
	`, rec.ExternalID, rec.Provider, rec.TenantID, rec.EntryID,
		rec.Status, rec.Tax, rec.ProviderMessage, pix)
	if err != nil {
		return fmt.Errorf("insert external invoice: %w", err)
	}
	return nil
}

func (p *PostgresInvoiceStore) GetByEntry(ctx context.Context, entryID string) (*InvoiceRecord, error) {
	rec := &InvoiceRecord{}
	var tax, message sql.NullString
	var pix []byte
	var prov string

	err := txn.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT external_id, provider, tenant_id, entry_id, status, tax,
		       provider_message, pix, created_at
		FROM external_invoices WHERE entry_id = $1
	`, entryID).Scan(&rec.ExternalID, &prov, &rec.TenantID, &rec.EntryID,
		&rec.Status, &tax, &message, &pix, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Provider = provider.Kind(prov)
	rec.Tax = tax.String
	rec.ProviderMessage = message.String
	if len(pix) > 0 {
		rec.PIX = &provider.PIXDetails{}
		if err := json.Unmarshal(pix, rec.PIX); err != nil {
			return nil, fmt.Errorf("decode pix details: %w", err)
		}
	}
	return rec, nil
}
