package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookKey(t *testing.T) {
	assert.Equal(t, "wh:STRIPE:evt_123", WebhookKey("STRIPE", "evt_123"))
}

func TestGuard_FreshBegin(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(NewMemoryStore(), 100*time.Millisecond)

	res, err := guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	assert.True(t, res.Fresh)
	assert.Nil(t, res.Existing)
}

func TestGuard_ReplayCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, 100*time.Millisecond)

	res, err := guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	require.True(t, res.Fresh)
	require.NoError(t, guard.Complete(ctx, "k1", "le_1"))

	res, err = guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	assert.False(t, res.Fresh)
	require.NotNil(t, res.Existing)
	assert.Equal(t, StatusCompleted, res.Existing.Status)
	assert.Equal(t, "le_1", res.Existing.ResultRef)
}

func TestGuard_RetakeFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, 100*time.Millisecond)

	res, err := guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	require.True(t, res.Fresh)
	require.NoError(t, guard.Fail(ctx, "k1", "provider down"))

	// A retry after failure executes fresh under a new attempt.
	res, err = guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	assert.True(t, res.Fresh)

	rec, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, rec.Status)
	assert.Equal(t, 2, rec.Attempt)
	assert.Empty(t, rec.Reason)
}

func TestGuard_InProgressWaitTimesOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, 60*time.Millisecond)

	res, err := guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	require.True(t, res.Fresh)

	// The holder never finishes; the duplicate must not re-execute.
	start := time.Now()
	_, err = guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	assert.ErrorIs(t, err, ErrConcurrentOperation)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGuard_InProgressWaitSeesCompletion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, 2*time.Second)

	res, err := guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	require.True(t, res.Fresh)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = guard.Complete(ctx, "k1", "le_1")
	}()

	res, err = guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	assert.False(t, res.Fresh)
	assert.Equal(t, "le_1", res.Existing.ResultRef)
}

func TestGuard_ConcurrentBeginsAdmitOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	guard := NewGuard(store, 50*time.Millisecond)

	var freshCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := guard.Begin(ctx, "k1", "tn_1", OpWebhookEvent)
			if err == nil && res.Fresh {
				freshCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), freshCount.Load())
}

func TestGuard_BeginRespectsContext(t *testing.T) {
	store := NewMemoryStore()
	guard := NewGuard(store, 10*time.Second)

	res, err := guard.Begin(context.Background(), "k1", "tn_1", OpPaymentInitiation)
	require.NoError(t, err)
	require.True(t, res.Fresh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = guard.Begin(ctx, "k1", "tn_1", OpPaymentInitiation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_CompleteIsFinal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fresh, _, err := store.TryBegin(ctx, &Record{Key: "k1", TenantID: "tn_1", Status: StatusInProgress, Attempt: 1})
	require.NoError(t, err)
	require.True(t, fresh)
	require.NoError(t, store.Complete(ctx, "k1", "le_1"))

	// COMPLETED never moves: no retake, no fail.
	ok, err := store.Retake(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = store.Fail(ctx, "k1", "nope")
	assert.ErrorIs(t, err, ErrNotInProgress)

	rec, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, "le_1", rec.ResultRef)
}

func TestMemoryStore_RepeatedTerminalIsTolerated(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	fresh, _, err := store.TryBegin(ctx, &Record{Key: "k1", Status: StatusInProgress, Attempt: 1})
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, store.Complete(ctx, "k1", "le_1"))
	// Same terminal state again, e.g. a transaction retry.
	assert.NoError(t, store.Complete(ctx, "k1", "le_1"))
}
