package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/vlourenco/pagera/internal/provider"
	"github.com/vlourenco/pagera/internal/txn"
)

// Unique constraint names from the migrations; violations map to the
// duplicate sentinels so the orchestrators can tell which invariant tripped.
const (
	constraintIdempotencyKey  = "uq_ledger_tenant_idem_key"
	constraintExternalInvoice = "uq_ledger_provider_invoice"
)

// PostgresStore implements Store with PostgreSQL. All writes resolve their
// executor through txn.Q so they join the orchestrator's atomic scope.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `
	id, tenant_id, to_account_id, amount, settled_amount, type, status,
	provider, external_invoice_id, idempotency_key, created_by, updated_by,
	version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Entry) error {
	_, err := txn.Q(ctx, p.db).ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, tenant_id, to_account_id, amount, settled_amount, type, status,
			provider, external_invoice_id, idempotency_key, created_by, updated_by,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
	`, e.ID, e.TenantID, e.ToAccountID, e.Amount, e.SettledAmount, e.Type, e.Status,
		e.Provider, e.ExternalInvoiceID, e.IdempotencyKey, e.CreatedBy, e.UpdatedBy, e.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case constraintIdempotencyKey:
				return ErrDuplicateKey
			case constraintExternalInvoice:
				return ErrDuplicateInvoice
			}
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Entry, error) {
	row := txn.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	return scanEntry(row)
}

func (p *PostgresStore) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*Entry, error) {
	row := txn.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)
	return scanEntry(row)
}

func (p *PostgresStore) GetByExternalInvoice(ctx context.Context, pk provider.Kind, externalInvoiceID string) (*Entry, error) {
	row := txn.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries WHERE provider = $1 AND external_invoice_id = $2
	`, string(pk), externalInvoiceID)
	return scanEntry(row)
}

// UpdateSettlement persists the transition outcome guarded by the version the
// caller read. A vanished row version means a concurrent writer won the race;
// the caller re-reads and recomputes rather than overwriting blindly.
func (p *PostgresStore) UpdateSettlement(ctx context.Context, e *Entry) error {
	res, err := txn.Q(ctx, p.db).ExecContext(ctx, `
		UPDATE ledger_entries SET
			status         = $3,
			settled_amount = $4,
			updated_by     = $5,
			version        = version + 1,
			updated_at     = NOW()
		WHERE id = $1 AND version = $2
	`, e.ID, e.Version, e.Status, e.SettledAmount, e.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Distinguish a lost race from a missing row.
		var n int
		if err := txn.Q(ctx, p.db).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM ledger_entries WHERE id = $1`, e.ID).Scan(&n); err != nil {
			return fmt.Errorf("update ledger entry: %w", err)
		}
		if n == 0 {
			return ErrEntryNotFound
		}
		return ErrVersionConflict
	}
	e.Version++
	return nil
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID, afterID string, limit int) ([]*Entry, error) {
	rows, err := txn.Q(ctx, p.db).QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE tenant_id = $1 AND ($2 = '' OR id < $2)
		ORDER BY id DESC
		LIMIT $3
	`, tenantID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	e := &Entry{}
	var createdBy, updatedBy sql.NullString
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ToAccountID, &e.Amount, &e.SettledAmount,
		&e.Type, &e.Status, &e.Provider, &e.ExternalInvoiceID, &e.IdempotencyKey,
		&createdBy, &updatedBy, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	e.CreatedBy = createdBy.String
	e.UpdatedBy = updatedBy.String
	return e, nil
}
