package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/commercemesh/core"
)

const (
	valReserved  = "reserved"
	valProcessed = "processed"
)

// RedisStore is a Store implementation shared across pipeline instances,
// using SET NX with expiry for the atomic check-and-reserve. Redis failures
// surface as transient errors so the event rides the redelivery path instead
// of being processed without dedup protection.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStore constructs a Redis-backed dedup store with the given TTL.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, keyPrefix: "dedup:"}
}

func (s *RedisStore) key(messageID string) string { return s.keyPrefix + messageID }

// CheckAndReserve implements Store.
func (s *RedisStore) CheckAndReserve(ctx context.Context, messageID string) (Outcome, error) {
	ok, err := s.client.SetNX(ctx, s.key(messageID), valReserved, s.ttl).Result()
	if err != nil {
		return Duplicate, core.Transient("dedup.reserve", fmt.Errorf("redis setnx: %w", err))
	}
	if !ok {
		return Duplicate, nil
	}
	return Fresh, nil
}

// MarkProcessed implements Store.
func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	if err := s.client.Set(ctx, s.key(messageID), valProcessed, s.ttl).Err(); err != nil {
		return core.Transient("dedup.mark", fmt.Errorf("redis set: %w", err))
	}
	return nil
}

// releaseScript deletes the key only while it still holds a reservation, so
// a concurrent MarkProcessed is never undone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, messageID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(messageID)}, valReserved).Err(); err != nil {
		return core.Transient("dedup.release", fmt.Errorf("redis release: %w", err))
	}
	return nil
}

// Seen implements Store.
func (s *RedisStore) Seen(ctx context.Context, messageID string) (bool, error) {
	val, err := s.client.Get(ctx, s.key(messageID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, core.Transient("dedup.seen", fmt.Errorf("redis get: %w", err))
	}
	return val == valProcessed, nil
}
