package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "pagera:idem:"

// transitionScript performs a conditional status transition atomically.
// KEYS[1] record key; ARGV[1] expected status; ARGV[2] new status;
// ARGV[3] resultRef (may be empty); ARGV[4] reason (may be empty).
// Returns 1 on transition, 0 when the record is absent or not in the
// expected status.
var transitionScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local rec = cjson.decode(raw)
if rec.status ~= ARGV[1] then return 0 end
rec.status = ARGV[2]
if ARGV[2] == 'IN_PROGRESS' then
  rec.attempt = (rec.attempt or 1) + 1
  rec.reason = nil
end
if ARGV[3] ~= '' then rec.resultRef = ARGV[3] end
if ARGV[4] ~= '' then rec.reason = ARGV[4] end
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')
return 1
`)

// RedisStore implements Store on Redis for deployments that want the
// dedupe tier off the transactional database. Records carry a TTL: a stale
// IN_PROGRESS record expires instead of blocking retries forever, which is
// this store's form of the bounded-age sweep.
//
// Unlike PostgresStore, Complete here is not part of the ledger's atomic
// scope; the worst case after a crash between commit and Complete is one
// extra execution attempt, which the ledger's own unique constraints and
// version checks absorb.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed idempotency store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) TryBegin(ctx context.Context, rec *Record) (bool, *Record, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, nil, fmt.Errorf("encode idempotency record: %w", err)
	}

	ok, err := r.client.SetNX(ctx, redisKeyPrefix+rec.Key, string(raw), r.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return true, nil, nil
	}

	existing, err := r.Get(ctx, rec.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return rec, nil
}

func (r *RedisStore) Retake(ctx context.Context, key string) (bool, error) {
	n, err := transitionScript.Run(ctx, r.client, []string{redisKeyPrefix + key},
		string(StatusFailed), string(StatusInProgress), "", "").Int()
	if err != nil {
		return false, fmt.Errorf("redis retake: %w", err)
	}
	return n == 1, nil
}

func (r *RedisStore) Complete(ctx context.Context, key, resultRef string) error {
	return r.finish(ctx, key, StatusCompleted, resultRef, "")
}

func (r *RedisStore) Fail(ctx context.Context, key, reason string) error {
	return r.finish(ctx, key, StatusFailed, "", reason)
}

func (r *RedisStore) finish(ctx context.Context, key string, status Status, resultRef, reason string) error {
	n, err := transitionScript.Run(ctx, r.client, []string{redisKeyPrefix + key},
		string(StatusInProgress), string(status), resultRef, reason).Int()
	if err != nil {
		return fmt.Errorf("redis transition: %w", err)
	}
	if n == 1 {
		return nil
	}

	existing, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing.Status == status {
		return nil
	}
	return fmt.Errorf("%w: key %s is %s", ErrNotInProgress, key, existing.Status)
}
