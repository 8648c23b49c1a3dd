// Package idempotency enforces at-most-once semantics for payment
// initiations and webhook events.
//
// Callers Begin an operation under a key before doing any work. A fresh
// record admits the caller; a COMPLETED record replays the cached result;
// an IN_PROGRESS record held elsewhere makes the caller wait a bounded time
// and then fail rather than re-execute. FAILED records are retaken so a
// client retry re-executes instead of replaying the failure.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrConcurrentOperation = errors.New("idempotency: operation already in progress")
	ErrRecordNotFound      = errors.New("idempotency: record not found")
	ErrNotInProgress       = errors.New("idempotency: record is not in progress")
)

// Status of an idempotency record.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// OperationType names the guarded operation.
type OperationType string

const (
	OpPaymentInitiation OperationType = "payment_initiation"
	OpWebhookEvent      OperationType = "webhook_event"
)

// WebhookKey builds the dedup key for a provider event.
func WebhookKey(providerName, eventID string) string {
	return "wh:" + providerName + ":" + eventID
}

// Record tracks one in-flight or finished operation.
type Record struct {
	Key       string        `json:"key"`
	TenantID  string        `json:"tenantId"`
	Operation OperationType `json:"operation"`
	Status    Status        `json:"status"`
	ResultRef string        `json:"resultRef,omitempty"` // ledger entry ID on success
	Reason    string        `json:"reason,omitempty"`    // failure reason
	Attempt   int           `json:"attempt"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Store persists idempotency records.
//
// Terminal transitions are monotonic per attempt: Complete and Fail only
// apply to an IN_PROGRESS record, and a COMPLETED record never changes
// again. Retake opens a new attempt over a FAILED key; COMPLETED is never
// retaken.
type Store interface {
	// TryBegin atomically inserts rec as IN_PROGRESS if the key is unused.
	// Returns (true, nil) on a fresh insert, (false, existing) otherwise.
	TryBegin(ctx context.Context, rec *Record) (bool, *Record, error)
	Get(ctx context.Context, key string) (*Record, error)
	// Retake moves FAILED -> IN_PROGRESS for a new attempt. False when the
	// record is not FAILED (someone else won, or it completed).
	Retake(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key, resultRef string) error
	Fail(ctx context.Context, key, reason string) error
}

// BeginResult is the admission decision for an operation.
type BeginResult struct {
	// Fresh is true when the caller owns the operation and must execute it.
	Fresh bool
	// Existing is the completed record to replay when Fresh is false.
	Existing *Record
}

// Guard wraps a Store with the bounded-wait admission policy.
type Guard struct {
	store Store
	wait  time.Duration // how long to wait on a concurrent IN_PROGRESS holder
	poll  time.Duration
}

// NewGuard creates a guard. wait bounds how long a duplicate request blocks
// on a concurrent holder before failing with ErrConcurrentOperation.
func NewGuard(store Store, wait time.Duration) *Guard {
	poll := 50 * time.Millisecond
	if wait < poll {
		poll = wait / 2
	}
	return &Guard{store: store, wait: wait, poll: poll}
}

// Begin admits an operation under key. See package doc for the decision
// table. The returned record on a non-fresh result is always COMPLETED.
func (g *Guard) Begin(ctx context.Context, key, tenantID string, op OperationType) (*BeginResult, error) {
	now := time.Now()
	rec := &Record{
		Key:       key,
		TenantID:  tenantID,
		Operation: op,
		Status:    StatusInProgress,
		Attempt:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	fresh, existing, err := g.store.TryBegin(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("idempotency begin %s: %w", key, err)
	}
	if fresh {
		return &BeginResult{Fresh: true}, nil
	}

	deadline := time.Now().Add(g.wait)
	for {
		switch existing.Status {
		case StatusCompleted:
			return &BeginResult{Existing: existing}, nil

		case StatusFailed:
			ok, err := g.store.Retake(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("idempotency retake %s: %w", key, err)
			}
			if ok {
				return &BeginResult{Fresh: true}, nil
			}
			// Lost the retake race; fall through and observe the new state.

		case StatusInProgress:
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("%w: key %s", ErrConcurrentOperation, key)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.poll):
			}
		}

		existing, err = g.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				// Holder's record expired; try to claim it fresh.
				fresh, existing, err = g.store.TryBegin(ctx, rec)
				if err != nil {
					return nil, fmt.Errorf("idempotency begin %s: %w", key, err)
				}
				if fresh {
					return &BeginResult{Fresh: true}, nil
				}
				continue
			}
			return nil, fmt.Errorf("idempotency get %s: %w", key, err)
		}
	}
}

// Complete marks the operation finished with its result reference.
func (g *Guard) Complete(ctx context.Context, key, resultRef string) error {
	if err := g.store.Complete(ctx, key, resultRef); err != nil {
		return fmt.Errorf("idempotency complete %s: %w", key, err)
	}
	return nil
}

// Fail marks the operation failed so a retry re-executes.
func (g *Guard) Fail(ctx context.Context, key, reason string) error {
	if err := g.store.Fail(ctx, key, reason); err != nil {
		return fmt.Errorf("idempotency fail %s: %w", key, err)
	}
	return nil
}
