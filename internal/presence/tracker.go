// Package presence maintains a bidirectional membership index (scope to
// identities, identity to scopes) in an expiring shared store. A "scope" is a
// chat room or a program segment; the tracker is instantiated once per
// namespace so both uses share one implementation.
//
// Presence is soft state: TTL expiry is the correctness backstop when cleanup
// never runs, and heartbeats refresh the TTL to keep active participants
// alive. The TTL must exceed the heartbeat interval by a comfortable margin.
package presence

import (
	"context"

	"github.com/onstagehq/onstage/internal/store"
)

// unavailable wraps a store error so callers can match store.ErrUnavailable.
func unavailable(err error) error {
	return store.Unavailable(err)
}

// Tracker is the presence contract shared by room presence and segment
// viewership. All mutations for a given (scope, identity) pair are idempotent
// and order-insensitive, so retries and replays are safe without locking.
type Tracker interface {
	// Join atomically adds the identity to the scope's forward set and the
	// scope to the identity's reverse set, refreshing TTL on both, and
	// returns the updated occupancy count.
	Join(ctx context.Context, scopeID, identity string) (int64, error)

	// Leave is the inverse of Join. Leaving twice is a no-op returning the
	// current count.
	Leave(ctx context.Context, scopeID, identity string) (int64, error)

	// OccupancyCount returns the scope's cardinality, 0 if unknown.
	OccupancyCount(ctx context.Context, scopeID string) (int64, error)

	// Members returns the full membership of a scope. More expensive than
	// OccupancyCount; avoid on hot paths for large scopes.
	Members(ctx context.Context, scopeID string) ([]string, error)

	// IsPresent reports whether the identity is in the scope.
	IsPresent(ctx context.Context, scopeID, identity string) (bool, error)

	// ScopesOf returns every scope the identity currently occupies.
	ScopesOf(ctx context.Context, identity string) ([]string, error)

	// Cleanup removes the identity from every scope in its reverse set, then
	// deletes the reverse set. Returns how many scopes were touched.
	Cleanup(ctx context.Context, identity string) (int, error)

	// RefreshTTL re-applies TTL to every scope the identity occupies plus its
	// reverse index, without mutating membership. Called on heartbeat.
	RefreshTTL(ctx context.Context, identity string) error
}
