// Package directory is the read-mostly boundary to the platform's CRUD layer:
// event participants, their roles and ban state, room descriptors, and
// session-speaker membership. Presence and access-control code consume it;
// only the moderation gate writes through it.
package directory

import (
	"context"
	"errors"
	"time"

	"github.com/onstagehq/onstage/internal/access"
)

// Common errors for directory lookups.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found")
)

// Participant is an event-participant record as consumed by this subsystem.
type Participant struct {
	Identity      string
	EventID       string
	Role          access.Role
	EventBanned   bool
	ChatBanned    bool
	ChatBanExpiry *time.Time // nil while ChatBanned means permanent
}

// RoomDescriptor describes a chat room for access-control purposes.
type RoomDescriptor struct {
	ID               string
	EventID          string
	Category         access.RoomCategory
	ProgramSegmentID string // empty unless the room belongs to a program segment
	Enabled          bool
}

// ModerationLogEntry is one structured record in an event's append-only
// moderation audit trail.
type ModerationLogEntry struct {
	Timestamp time.Time
	Actor     string
	Target    string
	Action    string
	Reason    string
}

// Directory exposes participant, room, and speaker facts.
//
// EventRoleOf must honor the organization-owner elevation rule: an owner of
// the organization that owns an event holds the administrator role for that
// event even without an explicit participant record. Keeping that rule behind
// this single method is deliberate; callers never re-derive it.
type Directory interface {
	EventRoleOf(ctx context.Context, identity, eventID string) (access.Role, error)
	IsEventBanned(ctx context.Context, identity, eventID string) (bool, error)
	IsChatBanned(ctx context.Context, identity, eventID string) (bool, *time.Time, error)
	RoomDescriptor(ctx context.Context, roomID string) (*RoomDescriptor, error)
	RoomsOfEvent(ctx context.Context, eventID string) ([]RoomDescriptor, error)
	IsSpeakerOf(ctx context.Context, identity, programSegmentID string) (bool, error)
	EventIDsOf(ctx context.Context, identity string) ([]string, error)
	EventAdminCount(ctx context.Context, eventID string) (int, error)

	// Moderation-state mutations. These are the only writes this subsystem
	// performs against the participant record.
	SetEventBan(ctx context.Context, identity, eventID string, banned bool) error
	SetChatBan(ctx context.Context, identity, eventID string, expiry *time.Time) error
	ClearChatBan(ctx context.Context, identity, eventID string) error
	AppendModerationLog(ctx context.Context, eventID string, entry ModerationLogEntry) error
}
