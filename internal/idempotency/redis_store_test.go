package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_TryBeginFresh(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.Regexp().ExpectSetNX("pagera:idem:k1", `.*"status":"IN_PROGRESS".*`, time.Hour).SetVal(true)

	fresh, existing, err := store.TryBegin(context.Background(), &Record{
		Key: "k1", TenantID: "tn_1", Operation: OpPaymentInitiation,
		Status: StatusInProgress, Attempt: 1,
	})
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Nil(t, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_TryBeginExisting(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	held, err := json.Marshal(&Record{
		Key: "k1", TenantID: "tn_1", Status: StatusCompleted, ResultRef: "le_1", Attempt: 1,
	})
	require.NoError(t, err)

	mock.Regexp().ExpectSetNX("pagera:idem:k1", `.*`, time.Hour).SetVal(false)
	mock.ExpectGet("pagera:idem:k1").SetVal(string(held))

	fresh, existing, err := store.TryBegin(context.Background(), &Record{
		Key: "k1", Status: StatusInProgress, Attempt: 1,
	})
	require.NoError(t, err)
	assert.False(t, fresh)
	require.NotNil(t, existing)
	assert.Equal(t, StatusCompleted, existing.Status)
	assert.Equal(t, "le_1", existing.ResultRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_GetNotFound(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.ExpectGet("pagera:idem:missing").RedisNil()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CompleteTransition(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.ExpectEvalSha(transitionScript.Hash(), []string{"pagera:idem:k1"},
		string(StatusInProgress), string(StatusCompleted), "le_1", "").SetVal(int64(1))

	err := store.Complete(context.Background(), "k1", "le_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_CompleteRepeatTolerated(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	held, err := json.Marshal(&Record{Key: "k1", Status: StatusCompleted, ResultRef: "le_1"})
	require.NoError(t, err)

	// Script reports no transition; the record is already COMPLETED.
	mock.ExpectEvalSha(transitionScript.Hash(), []string{"pagera:idem:k1"},
		string(StatusInProgress), string(StatusCompleted), "le_1", "").SetVal(int64(0))
	mock.ExpectGet("pagera:idem:k1").SetVal(string(held))

	err = store.Complete(context.Background(), "k1", "le_1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_FailAfterCompleteRejected(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	held, err := json.Marshal(&Record{Key: "k1", Status: StatusCompleted, ResultRef: "le_1"})
	require.NoError(t, err)

	mock.ExpectEvalSha(transitionScript.Hash(), []string{"pagera:idem:k1"},
		string(StatusInProgress), string(StatusFailed), "", "boom").SetVal(int64(0))
	mock.ExpectGet("pagera:idem:k1").SetVal(string(held))

	err = store.Fail(context.Background(), "k1", "boom")
	assert.ErrorIs(t, err, ErrNotInProgress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Retake(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, time.Hour)

	mock.ExpectEvalSha(transitionScript.Hash(), []string{"pagera:idem:k1"},
		string(StatusFailed), string(StatusInProgress), "", "").SetVal(int64(1))

	ok, err := store.Retake(context.Background(), "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
