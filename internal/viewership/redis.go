package viewership

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onstagehq/onstage/internal/store"
)

// RedisStats persists viewing statistics in two hashes per segment:
//
//	viewership:visits:{segmentID}  HASH identity -> visit count
//	viewership:watch:{segmentID}   HASH identity -> cumulative seconds
//
// No TTL: these are analytics counters, not presence.
type RedisStats struct {
	client    *redis.Client
	opTimeout time.Duration
}

func NewRedisStats(client *redis.Client, opTimeout time.Duration) *RedisStats {
	return &RedisStats{client: client, opTimeout: opTimeout}
}

func visitsKey(segmentID string) string {
	return "viewership:visits:" + segmentID
}

func watchKey(segmentID string) string {
	return "viewership:watch:" + segmentID
}

func (s *RedisStats) RecordVisit(ctx context.Context, segmentID, identity string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := s.client.HIncrBy(ctx, visitsKey(segmentID), identity, 1).Result()
	if err != nil {
		return 0, store.Unavailable(err)
	}
	return n, nil
}

func (s *RedisStats) AddWatchTime(ctx context.Context, segmentID, identity string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	secs := int64(d.Seconds())
	if secs <= 0 {
		return nil
	}
	if err := s.client.HIncrBy(ctx, watchKey(segmentID), identity, secs).Err(); err != nil {
		return store.Unavailable(err)
	}
	return nil
}

func (s *RedisStats) Stats(ctx context.Context, segmentID, identity string) (WatchStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	visits := pipe.HGet(ctx, visitsKey(segmentID), identity)
	watch := pipe.HGet(ctx, watchKey(segmentID), identity)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return WatchStats{}, store.Unavailable(err)
	}

	var out WatchStats
	if raw, err := visits.Result(); err == nil {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			out.Visits = n
		}
	}
	if raw, err := watch.Result(); err == nil {
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			out.WatchTime = time.Duration(n) * time.Second
		}
	}
	return out, nil
}
