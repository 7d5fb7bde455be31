// Package session tracks the mapping from live connections to authenticated
// identities. The registry is the mandatory gate in front of every other
// inbound-event handler: nothing runs for a connection that has not
// authenticated.
package session

import (
	"sync"
	"time"
)

// Record holds the authentication state for a single connection.
type Record struct {
	ConnectionID string
	Identity     string
	LastActivity time.Time
}

// Registry is a concurrency-safe connection-session registry keyed by
// connection id. It is injected into handlers rather than accessed as
// ambient global state so it can be unit-tested without a live transport.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// NewRegistryWithClock creates a registry with an injected clock, for tests.
func NewRegistryWithClock(now func() time.Time) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     now,
	}
}

// Authenticate records the identity for a connection. Idempotent: calling it
// again overwrites any prior identity for the connection id, which supports
// token refresh mid-connection.
func (r *Registry) Authenticate(connectionID, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[connectionID] = &Record{
		ConnectionID: connectionID,
		Identity:     identity,
		LastActivity: r.now(),
	}
}

// IsAuthenticated reports whether the connection has an authenticated identity.
func (r *Registry) IsAuthenticated(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.records[connectionID]
	return ok
}

// IdentityOf returns the identity for a connection, or ("", false) if the
// connection is not authenticated.
func (r *Registry) IdentityOf(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[connectionID]
	if !ok {
		return "", false
	}
	return rec.Identity, true
}

// Touch updates the last-activity timestamp for a connection. Called on every
// inbound event from an authenticated connection. A touch on an unknown
// connection is a no-op.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[connectionID]; ok {
		rec.LastActivity = r.now()
	}
}

// Remove drops the record for a connection. Called on disconnect. Removing an
// unknown connection is a no-op.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, connectionID)
}

// SweepIdle removes all connections whose last activity exceeds maxIdle and
// returns the removed records. Intended to run on a fixed interval as a safety
// net against connections that never cleanly disconnect.
func (r *Registry) SweepIdle(maxIdle time.Duration) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	var swept []Record
	for id, rec := range r.records {
		if rec.LastActivity.Before(cutoff) {
			swept = append(swept, *rec)
			delete(r.records, id)
		}
	}
	return swept
}

// Len returns the number of authenticated connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}
