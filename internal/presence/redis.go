package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker implements Tracker on Redis, namespaced so room presence and
// segment viewership never collide:
//
//	presence:{ns}:scope:{scopeID}  ZSET identity -> last-heartbeat unix seconds
//	presence:{ns}:ident:{identity} SET of scope ids (reverse index)
//
// The forward index is a sorted set scored by last heartbeat rather than a
// plain set: key-level TTL alone cannot expire a single silent member while
// others keep the key alive. Occupancy and membership queries count only
// members whose score is within the TTL window, and writes opportunistically
// reap entries that fell out of it. Key-level TTL remains as the backstop
// that erases a scope nobody refreshes at all.
//
// The two-index update in Join/Leave is issued as a single MULTI/EXEC
// pipeline so a crash between the writes cannot leave the indexes split.
type RedisTracker struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

// NewRedisTracker creates a Redis-backed tracker for the given namespace
// (e.g. "room" or "segment").
func NewRedisTracker(client *redis.Client, namespace string, ttl, opTimeout time.Duration) *RedisTracker {
	return &RedisTracker{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

func (t *RedisTracker) scopeKey(scopeID string) string {
	return "presence:" + t.namespace + ":scope:" + scopeID
}

func (t *RedisTracker) identKey(identity string) string {
	return "presence:" + t.namespace + ":ident:" + identity
}

// minScore is the oldest heartbeat score still considered live.
func (t *RedisTracker) minScore() string {
	min := t.now().Add(-t.ttl).Unix()
	return strconv.FormatInt(min, 10)
}

// withTimeout bounds a store operation so a slow Redis never blocks a
// connection handler for more than the configured budget.
func (t *RedisTracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opTimeout)
}

// Join adds the identity to the scope and returns the new occupancy count.
func (t *RedisTracker) Join(ctx context.Context, scopeID, identity string) (int64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	scopeKey := t.scopeKey(scopeID)
	identKey := t.identKey(identity)
	min := t.minScore()

	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, scopeKey, redis.Z{Score: float64(t.now().Unix()), Member: identity})
	pipe.SAdd(ctx, identKey, scopeID)
	pipe.ZRemRangeByScore(ctx, scopeKey, "-inf", "("+min)
	pipe.Expire(ctx, scopeKey, t.ttl)
	pipe.Expire(ctx, identKey, t.ttl)
	card := pipe.ZCount(ctx, scopeKey, min, "+inf")

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable(err)
	}
	return card.Val(), nil
}

// Leave removes the identity from the scope and returns the new occupancy
// count. Idempotent.
func (t *RedisTracker) Leave(ctx context.Context, scopeID, identity string) (int64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	scopeKey := t.scopeKey(scopeID)
	identKey := t.identKey(identity)
	min := t.minScore()

	pipe := t.client.TxPipeline()
	pipe.ZRem(ctx, scopeKey, identity)
	pipe.SRem(ctx, identKey, scopeID)
	pipe.ZRemRangeByScore(ctx, scopeKey, "-inf", "("+min)
	card := pipe.ZCount(ctx, scopeKey, min, "+inf")

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable(err)
	}
	return card.Val(), nil
}

// OccupancyCount counts members whose last heartbeat is within the TTL window.
func (t *RedisTracker) OccupancyCount(ctx context.Context, scopeID string) (int64, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	n, err := t.client.ZCount(ctx, t.scopeKey(scopeID), t.minScore(), "+inf").Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Members returns the live membership of a scope.
func (t *RedisTracker) Members(ctx context.Context, scopeID string) ([]string, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	members, err := t.client.ZRangeByScore(ctx, t.scopeKey(scopeID), &redis.ZRangeBy{
		Min: t.minScore(),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

// IsPresent reports whether the identity is a live member of the scope.
func (t *RedisTracker) IsPresent(ctx context.Context, scopeID, identity string) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	score, err := t.client.ZScore(ctx, t.scopeKey(scopeID), identity).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}
	return int64(score) >= t.now().Add(-t.ttl).Unix(), nil
}

// ScopesOf returns every scope the identity currently occupies.
func (t *RedisTracker) ScopesOf(ctx context.Context, identity string) ([]string, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	scopes, err := t.client.SMembers(ctx, t.identKey(identity)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return scopes, nil
}

// Cleanup removes the identity's full footprint using the reverse index,
// which is what makes disconnect cleanup O(scopes joined) rather than a scan
// of every known scope.
func (t *RedisTracker) Cleanup(ctx context.Context, identity string) (int, error) {
	scopes, err := t.ScopesOf(ctx, identity)
	if err != nil {
		return 0, err
	}
	if len(scopes) == 0 {
		return 0, nil
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	pipe := t.client.TxPipeline()
	for _, scopeID := range scopes {
		pipe.ZRem(ctx, t.scopeKey(scopeID), identity)
	}
	pipe.Del(ctx, t.identKey(identity))

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable(err)
	}
	return len(scopes), nil
}

// RefreshTTL bumps the identity's heartbeat score in every scope it occupies
// and re-arms key expiry. Membership is not mutated: ZADD XX only touches
// members that already exist.
func (t *RedisTracker) RefreshTTL(ctx context.Context, identity string) error {
	scopes, err := t.ScopesOf(ctx, identity)
	if err != nil {
		return err
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	score := float64(t.now().Unix())
	pipe := t.client.TxPipeline()
	for _, scopeID := range scopes {
		scopeKey := t.scopeKey(scopeID)
		pipe.ZAddXX(ctx, scopeKey, redis.Z{Score: score, Member: identity})
		pipe.Expire(ctx, scopeKey, t.ttl)
	}
	pipe.Expire(ctx, t.identKey(identity), t.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}
