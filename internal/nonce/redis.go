package nonce

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "x402:nonce:"

// RedisRegistry backs the registry with Redis SET NX, which is atomic across
// processes. Expiry is delegated to the key TTL, so no sweep is needed.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) TryReserve(ctx context.Context, nonce string, expiry time.Time) (bool, error) {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		// Expiry already passed; keep the entry around briefly so a racing
		// duplicate still loses.
		ttl = time.Second
	}
	return r.rdb.SetNX(ctx, redisKeyPrefix+nonce, 1, ttl).Result()
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *RedisRegistry) Close() error { return nil }
