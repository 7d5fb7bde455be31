package typing

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onstagehq/onstage/internal/store"
)

const keyPrefix = "typing:"

// RedisTracker stores one hash per scope:
//
//	typing:{scopeID}  HASH identity -> last-typed unix milliseconds
//
// The whole hash carries a short TTL refreshed on every write. There is no
// reverse index; CleanupAll scans the typing keyspace instead, which is
// acceptable because it only runs on disconnect and typing hashes are few
// and tiny.
type RedisTracker struct {
	client    *redis.Client
	ttl       time.Duration
	staleness time.Duration
	opTimeout time.Duration
	now       func() time.Time
}

func NewRedisTracker(client *redis.Client, ttl, staleness, opTimeout time.Duration) *RedisTracker {
	return &RedisTracker{
		client:    client,
		ttl:       ttl,
		staleness: staleness,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

func scopeKey(scopeID string) string {
	return keyPrefix + scopeID
}

func (t *RedisTracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.opTimeout)
}

func (t *RedisTracker) SetTyping(ctx context.Context, scopeID, identity string, isTyping bool) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	key := scopeKey(scopeID)
	if !isTyping {
		if err := t.client.HDel(ctx, key, identity).Err(); err != nil {
			return store.Unavailable(err)
		}
		return nil
	}

	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, key, identity, strconv.FormatInt(t.now().UnixMilli(), 10))
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return store.Unavailable(err)
	}
	return nil
}

func (t *RedisTracker) ActiveTypists(ctx context.Context, scopeID string) ([]Typist, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	entries, err := t.client.HGetAll(ctx, scopeKey(scopeID)).Result()
	if err != nil {
		return nil, store.Unavailable(err)
	}
	return t.filterStale(entries), nil
}

func (t *RedisTracker) IsTyping(ctx context.Context, scopeID, identity string) (bool, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	raw, err := t.client.HGet(ctx, scopeKey(scopeID), identity).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, store.Unavailable(err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return t.now().Sub(time.UnixMilli(millis)) <= t.staleness, nil
}

func (t *RedisTracker) CleanupAll(ctx context.Context, identity string) (int, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	removed := 0
	iter := t.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n, err := t.client.HDel(ctx, iter.Val(), identity).Result()
		if err != nil {
			return removed, store.Unavailable(err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, store.Unavailable(err)
	}
	return removed, nil
}

// filterStale drops entries older than the staleness threshold and orders the
// remainder oldest-first. Filtering on read rather than trusting TTL alone
// masks the race between "hash about to expire" and "read happened just
// before"; both mechanisms are kept on purpose.
func (t *RedisTracker) filterStale(entries map[string]string) []Typist {
	now := t.now()
	typists := make([]Typist, 0, len(entries))
	for identity, raw := range entries {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		age := now.Sub(time.UnixMilli(millis))
		if age > t.staleness {
			continue
		}
		typists = append(typists, Typist{Identity: identity, Age: age})
	}
	sort.Slice(typists, func(i, j int) bool {
		if typists[i].Age != typists[j].Age {
			return typists[i].Age > typists[j].Age
		}
		return typists[i].Identity < typists[j].Identity
	})
	return typists
}
