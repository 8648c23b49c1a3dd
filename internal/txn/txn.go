// Package txn supplies the atomic scope used by the payment orchestrators.
//
// It is a thin coordinator over database/sql transactions: the active *sql.Tx
// rides in the context, stores resolve their executor through Q, and nested
// WithinTx calls join the already-open transaction instead of starting a
// second one. With no database configured (in-memory mode) the scope is a
// pass-through; memory stores provide their own locking.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type contextKey struct{}

// Querier is the subset of *sql.DB / *sql.Tx the stores use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// From returns the transaction carried by ctx, or nil.
func From(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(contextKey{}).(*sql.Tx)
	return tx
}

// Q resolves the executor for a store call: the context transaction when one
// is open, otherwise db directly.
func Q(ctx context.Context, db *sql.DB) Querier {
	if tx := From(ctx); tx != nil {
		return tx
	}
	return db
}

// Coordinator runs units of work atomically.
type Coordinator struct {
	db      *sql.DB // nil in memory mode
	timeout time.Duration
}

// NewCoordinator creates a coordinator. db may be nil for in-memory mode.
func NewCoordinator(db *sql.DB, timeout time.Duration) *Coordinator {
	return &Coordinator{db: db, timeout: timeout}
}

// WithinTx executes fn inside one atomic scope with the configured timeout.
// If ctx already carries a transaction, fn joins it and commit/rollback stay
// with the outermost caller.
func (c *Coordinator) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.db == nil {
		return fn(ctx)
	}
	if From(ctx) != nil {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, contextKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
