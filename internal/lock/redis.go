package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only when it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is a Store backed by redis, shared by every API process.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore constructs a RedisStore; it returns nil without a client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

// SetIfAbsent implements Store using SET NX PX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// DeleteIfValue implements Store with a compare-and-delete script.
func (s *RedisStore) DeleteIfValue(ctx context.Context, key, value string) error {
	if errRun := releaseScript.Run(ctx, s.client, []string{key}, value).Err(); errRun != nil && !errors.Is(errRun, redis.Nil) {
		return fmt.Errorf("lock: redis release %s: %w", key, errRun)
	}
	return nil
}
