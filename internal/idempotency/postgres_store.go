package idempotency

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vlourenco/pagera/internal/txn"
)

// PostgresStore implements Store with PostgreSQL. Writes resolve their
// executor through txn.Q so Complete joins the orchestrator's atomic scope
// alongside the ledger mutation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) TryBegin(ctx context.Context, rec *Record) (bool, *Record, error) {
	res, err := txn.Q(ctx, p.db).ExecContext(ctx, `
		INSERT INTO idempotency_records (key, tenant_id, operation, status, attempt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, NOW(), NOW())
		ON CONFLICT (key) DO NOTHING
	`, rec.Key, rec.TenantID, rec.Operation, StatusInProgress)
	if err != nil {
		return false, nil, fmt.Errorf("insert idempotency record: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 1 {
		return true, nil, nil
	}

	existing, err := p.Get(ctx, rec.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	rec := &Record{}
	var resultRef, reason sql.NullString
	err := txn.Q(ctx, p.db).QueryRowContext(ctx, `
		SELECT key, tenant_id, operation, status, result_ref, reason, attempt, created_at, updated_at
		FROM idempotency_records WHERE key = $1
	`, key).Scan(&rec.Key, &rec.TenantID, &rec.Operation, &rec.Status,
		&resultRef, &reason, &rec.Attempt, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ResultRef = resultRef.String
	rec.Reason = reason.String
	return rec, nil
}

func (p *PostgresStore) Retake(ctx context.Context, key string) (bool, error) {
	res, err := txn.Q(ctx, p.db).ExecContext(ctx, `
		UPDATE idempotency_records SET
			status     = $2,
			reason     = NULL,
			attempt    = attempt + 1,
			updated_at = NOW()
		WHERE key = $1 AND status = $3
	`, key, StatusInProgress, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("retake idempotency record: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows == 1, nil
}

func (p *PostgresStore) Complete(ctx context.Context, key, resultRef string) error {
	return p.finish(ctx, key, StatusCompleted, resultRef, "")
}

func (p *PostgresStore) Fail(ctx context.Context, key, reason string) error {
	return p.finish(ctx, key, StatusFailed, "", reason)
}

func (p *PostgresStore) finish(ctx context.Context, key string, status Status, resultRef, reason string) error {
	res, err := txn.Q(ctx, p.db).ExecContext(ctx, `
		UPDATE idempotency_records SET
			status     = $2,
			result_ref = NULLIF($3, ''),
			reason     = NULLIF($4, ''),
			updated_at = NOW()
		WHERE key = $1 AND status = $5
	`, key, status, resultRef, reason, StatusInProgress)
	if err != nil {
		return fmt.Errorf("finish idempotency record: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 1 {
		return nil
	}

	// The guarded transition lost; tolerate an idempotent repeat of the same
	// terminal state, reject anything else.
	existing, err := p.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing.Status == status {
		return nil
	}
	return fmt.Errorf("%w: key %s is %s", ErrNotInProgress, key, existing.Status)
}
