package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript atomically extends a lease's TTL only if the caller still
// owns it, mirroring control_plane's owner-checked Lua renew/release pair.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisCoordinator backs the distributed lease used by the daily-tick
// leader election. It does not hold booking
// state; Postgres remains the system of record.
type RedisCoordinator struct {
	client *redis.Client
}

func NewRedisCoordinator(client *redis.Client) *RedisCoordinator {
	return &RedisCoordinator{client: client}
}

func (c *RedisCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

func (c *RedisCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := c.client.Eval(ctx, renewScript, []string{key}, value, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (c *RedisCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	res, err := c.client.Eval(ctx, releaseScript, []string{key}, value).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, _ := res.(int64)
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func (c *RedisCoordinator) IsLeaseOwner(ctx context.Context, key, value string) (bool, error) {
	current, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return current == value, nil
}

// IncrementEpoch bumps a durable fencing counter; every successful leader
// transition is stamped with the returned epoch so stale leaders can be
// detected even after a lease is lost and reacquired.
func (c *RedisCoordinator) IncrementEpoch(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// RedisIdempotency implements IdempotencyBackend, deduping Schedule(bookingId)
// calls so a retried webhook or duplicate event does not double-enqueue.
type RedisIdempotency struct {
	client *redis.Client
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func (r *RedisIdempotency) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisIdempotency) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return v, nil
}

func (r *RedisIdempotency) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// CandidateCache is an ephemeral, environment-namespaced cache of the last
// computed candidate score set for a booking. It exists purely to let the
// control surface's debug snapshot endpoint render the most recent scoring
// pass without re-running it; losing it never affects correctness, since
// the engine always recomputes scores from the Store before committing.
type CandidateCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCandidateCache(client *redis.Client, ttl time.Duration) *CandidateCache {
	return &CandidateCache{client: client, ttl: ttl}
}

func (c *CandidateCache) Put(ctx context.Context, environment string, bookingID int64, candidates []CandidateDecision) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	key := EnvKey(environment, ResourceBooking, fmt.Sprintf("%d:candidates", bookingID))
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (c *CandidateCache) Get(ctx context.Context, environment string, bookingID int64) ([]CandidateDecision, error) {
	key := EnvKey(environment, ResourceBooking, fmt.Sprintf("%d:candidates", bookingID))
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var candidates []CandidateDecision
	if err := json.Unmarshal(payload, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

// Scan iterates every key under an environment/resource prefix, mirroring
// control_plane's SCAN-cursor helper used by its cache-warming routines.
func Scan(ctx context.Context, client *redis.Client, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
