package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTracker is an in-process Tracker used in tests and single-node
// development. It mirrors the Redis layout: a forward index of scope ->
// identity -> last heartbeat, and a reverse index of identity -> scopes.
// Members whose last heartbeat is older than the TTL are treated as gone and
// purged lazily on the next operation.
type MemoryTracker struct {
	mu      sync.Mutex
	forward map[string]map[string]time.Time
	reverse map[string]map[string]struct{}
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return NewMemoryTrackerWithClock(ttl, time.Now)
}

// NewMemoryTrackerWithClock allows tests to control time so TTL expiry can be
// exercised without sleeping.
func NewMemoryTrackerWithClock(ttl time.Duration, now func() time.Time) *MemoryTracker {
	return &MemoryTracker{
		forward: make(map[string]map[string]time.Time),
		reverse: make(map[string]map[string]struct{}),
		ttl:     ttl,
		now:     now,
	}
}

// purgeExpired drops every membership whose heartbeat fell out of the TTL
// window. Caller must hold mu.
func (t *MemoryTracker) purgeExpired() {
	cutoff := t.now().Add(-t.ttl)
	for scopeID, members := range t.forward {
		for identity, seen := range members {
			if seen.Before(cutoff) {
				delete(members, identity)
				t.dropReverse(identity, scopeID)
			}
		}
		if len(members) == 0 {
			delete(t.forward, scopeID)
		}
	}
}

func (t *MemoryTracker) dropReverse(identity, scopeID string) {
	scopes, ok := t.reverse[identity]
	if !ok {
		return
	}
	delete(scopes, scopeID)
	if len(scopes) == 0 {
		delete(t.reverse, identity)
	}
}

func (t *MemoryTracker) Join(_ context.Context, scopeID, identity string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	members, ok := t.forward[scopeID]
	if !ok {
		members = make(map[string]time.Time)
		t.forward[scopeID] = members
	}
	members[identity] = t.now()

	scopes, ok := t.reverse[identity]
	if !ok {
		scopes = make(map[string]struct{})
		t.reverse[identity] = scopes
	}
	scopes[scopeID] = struct{}{}

	return int64(len(members)), nil
}

func (t *MemoryTracker) Leave(_ context.Context, scopeID, identity string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	members, ok := t.forward[scopeID]
	if ok {
		delete(members, identity)
		if len(members) == 0 {
			delete(t.forward, scopeID)
		}
	}
	t.dropReverse(identity, scopeID)

	return int64(len(members)), nil
}

func (t *MemoryTracker) OccupancyCount(_ context.Context, scopeID string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	return int64(len(t.forward[scopeID])), nil
}

func (t *MemoryTracker) Members(_ context.Context, scopeID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	members := t.forward[scopeID]
	out := make([]string, 0, len(members))
	for identity := range members {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out, nil
}

func (t *MemoryTracker) IsPresent(_ context.Context, scopeID, identity string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	_, ok := t.forward[scopeID][identity]
	return ok, nil
}

func (t *MemoryTracker) ScopesOf(_ context.Context, identity string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	scopes := t.reverse[identity]
	out := make([]string, 0, len(scopes))
	for scopeID := range scopes {
		out = append(out, scopeID)
	}
	sort.Strings(out)
	return out, nil
}

func (t *MemoryTracker) Cleanup(_ context.Context, identity string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	scopes := t.reverse[identity]
	n := len(scopes)
	for scopeID := range scopes {
		members := t.forward[scopeID]
		delete(members, identity)
		if len(members) == 0 {
			delete(t.forward, scopeID)
		}
	}
	delete(t.reverse, identity)
	return n, nil
}

func (t *MemoryTracker) RefreshTTL(_ context.Context, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeExpired()

	now := t.now()
	for scopeID := range t.reverse[identity] {
		if members, ok := t.forward[scopeID]; ok {
			members[identity] = now
		}
	}
	return nil
}
