// Package typing tracks short-lived "is typing" indicators per room or
// thread. This is deliberately the least durable state in the system: losing
// an indicator is invisible to users, so there is no reverse index and the
// TTL is a few seconds. Clients debounce their typing events and send an
// explicit stop on blur; the TTL covers the case where that stop is lost.
package typing

import (
	"context"
	"time"
)

// Typist is one active typist in a scope.
type Typist struct {
	Identity string
	Age      time.Duration
}

// Tracker records who is typing in which scope.
//
// Reads apply a staleness threshold shorter than the store's own TTL, so an
// entry the TTL is about to reap can never be observed as still typing.
type Tracker interface {
	// SetTyping stores the current timestamp for the identity when typing
	// is true, or removes the entry when false.
	SetTyping(ctx context.Context, scopeID, identity string, isTyping bool) error

	// ActiveTypists returns the scope's non-stale typists ordered
	// oldest-first, so whoever started typing first is listed first.
	ActiveTypists(ctx context.Context, scopeID string) ([]Typist, error)

	// IsTyping reports whether the identity has a non-stale entry in the
	// scope.
	IsTyping(ctx context.Context, scopeID, identity string) (bool, error)

	// CleanupAll removes the identity from every known typing scope and
	// returns how many entries were removed. Best effort, runs on
	// disconnect.
	CleanupAll(ctx context.Context, identity string) (int, error)
}
