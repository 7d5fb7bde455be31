package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker reports whether the shared presence store is reachable.
// Redis being down degrades presence rather than failing readiness; the
// probe handler decides what to do with the result.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker wraps a Redis client.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends a PING. The caller bounds the wait via ctx.
func (c *RedisChecker) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
