package typing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTracker is an in-process Tracker for tests and single-node
// development. Expiry is emulated by dropping entries older than the TTL
// lazily on each operation.
type MemoryTracker struct {
	mu        sync.Mutex
	scopes    map[string]map[string]time.Time
	ttl       time.Duration
	staleness time.Duration
	now       func() time.Time
}

func NewMemoryTracker(ttl, staleness time.Duration) *MemoryTracker {
	return NewMemoryTrackerWithClock(ttl, staleness, time.Now)
}

// NewMemoryTrackerWithClock allows tests to control time so staleness and
// expiry can be exercised without sleeping.
func NewMemoryTrackerWithClock(ttl, staleness time.Duration, now func() time.Time) *MemoryTracker {
	return &MemoryTracker{
		scopes:    make(map[string]map[string]time.Time),
		ttl:       ttl,
		staleness: staleness,
		now:       now,
	}
}

// purgeExpired drops entries past the TTL. Caller must hold mu.
func (t *MemoryTracker) purgeExpired() {
	cutoff := t.now().Add(-t.ttl)
	for scopeID, entries := range t.scopes {
		for identity, typed := range entries {
			if typed.Before(cutoff) {
				delete(entries, identity)
			}
		}
		if len(entries) == 0 {
			delete(t.scopes, scopeID)
		}
	}
}

func (t *MemoryTracker) SetTyping(_ context.Context, scopeID, identity string, isTyping bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	if !isTyping {
		if entries, ok := t.scopes[scopeID]; ok {
			delete(entries, identity)
			if len(entries) == 0 {
				delete(t.scopes, scopeID)
			}
		}
		return nil
	}

	entries, ok := t.scopes[scopeID]
	if !ok {
		entries = make(map[string]time.Time)
		t.scopes[scopeID] = entries
	}
	entries[identity] = t.now()
	return nil
}

func (t *MemoryTracker) ActiveTypists(_ context.Context, scopeID string) ([]Typist, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	now := t.now()
	entries := t.scopes[scopeID]
	typists := make([]Typist, 0, len(entries))
	for identity, typed := range entries {
		age := now.Sub(typed)
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
	return typists, nil
}

func (t *MemoryTracker) IsTyping(_ context.Context, scopeID, identity string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	typed, ok := t.scopes[scopeID][identity]
	if !ok {
		return false, nil
	}
	return t.now().Sub(typed) <= t.staleness, nil
}

func (t *MemoryTracker) CleanupAll(_ context.Context, identity string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	removed := 0
	for scopeID, entries := range t.scopes {
		if _, ok := entries[identity]; ok {
			delete(entries, identity)
			removed++
			if len(entries) == 0 {
				delete(t.scopes, scopeID)
			}
		}
	}
	return removed, nil
}
