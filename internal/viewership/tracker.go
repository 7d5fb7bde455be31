// Package viewership tracks who is watching which program segment. The
// membership side is structurally identical to room presence and reuses the
// presence tracker under its own namespace; this package adds the statistics
// that make segment viewing different from chat-room membership: per-identity
// visit counts and cumulative watch time.
package viewership

import (
	"context"
	"time"

	"github.com/onstagehq/onstage/internal/presence"
)

// WatchStats summarizes one identity's history with a segment.
type WatchStats struct {
	Visits    int64
	WatchTime time.Duration
}

// StatsRecorder persists visit counts and cumulative watch time per
// (segment, identity). Unlike presence these counters do not expire; they
// feed post-event analytics.
type StatsRecorder interface {
	// RecordVisit increments the identity's visit counter for the segment
	// and returns the new count.
	RecordVisit(ctx context.Context, segmentID, identity string) (int64, error)

	// AddWatchTime adds a watched duration to the identity's cumulative
	// total for the segment.
	AddWatchTime(ctx context.Context, segmentID, identity string, d time.Duration) error

	// Stats returns the identity's visit count and cumulative watch time
	// for the segment. Zero values if unknown.
	Stats(ctx context.Context, segmentID, identity string) (WatchStats, error)
}

// Tracker combines segment presence with viewing statistics. Watch begins
// with a presence join and a visit increment; watch time accrues when the
// viewer leaves or disconnects.
type Tracker struct {
	Presence presence.Tracker
	Stats    StatsRecorder
}

func NewTracker(p presence.Tracker, s StatsRecorder) *Tracker {
	return &Tracker{Presence: p, Stats: s}
}

// Watch marks the identity as viewing the segment and counts the visit.
// Returns the segment's updated viewer count.
func (t *Tracker) Watch(ctx context.Context, segmentID, identity string) (int64, error) {
	count, err := t.Presence.Join(ctx, segmentID, identity)
	if err != nil {
		return 0, err
	}
	if _, err := t.Stats.RecordVisit(ctx, segmentID, identity); err != nil {
		return count, err
	}
	return count, nil
}

// Unwatch removes the identity from the segment and credits the watched
// duration. Returns the segment's updated viewer count.
func (t *Tracker) Unwatch(ctx context.Context, segmentID, identity string, watched time.Duration) (int64, error) {
	count, err := t.Presence.Leave(ctx, segmentID, identity)
	if err != nil {
		return 0, err
	}
	if watched > 0 {
		if err := t.Stats.AddWatchTime(ctx, segmentID, identity, watched); err != nil {
			return count, err
		}
	}
	return count, nil
}
