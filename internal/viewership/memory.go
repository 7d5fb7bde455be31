package viewership

import (
	"context"
	"sync"
	"time"
)

// MemoryStats is an in-process StatsRecorder for tests.
type MemoryStats struct {
	mu     sync.Mutex
	visits map[string]int64
	watch  map[string]time.Duration
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{
		visits: make(map[string]int64),
		watch:  make(map[string]time.Duration),
	}
}

func statsKey(segmentID, identity string) string {
	return segmentID + "/" + identity
}

func (s *MemoryStats) RecordVisit(_ context.Context, segmentID, identity string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statsKey(segmentID, identity)
	s.visits[key]++
	return s.visits[key], nil
}

func (s *MemoryStats) AddWatchTime(_ context.Context, segmentID, identity string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watch[statsKey(segmentID, identity)] += d
	return nil
}

func (s *MemoryStats) Stats(_ context.Context, segmentID, identity string) (WatchStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statsKey(segmentID, identity)
	return WatchStats{
		Visits:    s.visits[key],
		WatchTime: s.watch[key],
	}, nil
}
