// Package access implements the room access-control decision. The decision is
// a pure function over facts supplied by the caller; it performs no I/O, which
// keeps every authorization path independently testable.
package access

import "time"

// Role is a participant's role within an event.
type Role string

// Event roles, from most to least privileged.
const (
	RoleAdministrator Role = "administrator"
	RoleOrganizer     Role = "organizer"
	RoleModerator     Role = "moderator"
	RoleSpeaker       Role = "speaker"
	RoleAttendee      Role = "attendee"
	RoleNone          Role = ""
)

// RoomCategory is the access-control class of a chat room.
type RoomCategory string

// Room categories.
const (
	CategoryGlobal           RoomCategory = "global"
	CategoryAdminOnly        RoomCategory = "admin_only"
	CategoryGreenRoom        RoomCategory = "green_room"
	CategorySessionBackstage RoomCategory = "session_backstage"
	CategorySessionPublic    RoomCategory = "session_public"
)

// Action is an operation a participant can attempt on a room.
type Action string

// Room actions.
const (
	ActionJoin     Action = "join"
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionModerate Action = "moderate"
)

// Denial reasons returned in Decision.Reason.
const (
	ReasonEventBanned    = "banned from this event"
	ReasonChatBanned     = "chat privileges are suspended"
	ReasonNotParticipant = "not a participant of this event"
	ReasonRoomDisabled   = "room is disabled"
	ReasonRoleRequired   = "insufficient role for this room"
	ReasonNotSpeaker     = "backstage is limited to this session's speakers and organizers"
)

// Room carries the facts about a room needed for a decision.
type Room struct {
	ID               string
	Category         RoomCategory
	EventID          string
	ProgramSegmentID string // set only for session-scoped rooms
	Enabled          bool
}

// Context carries the facts about the requesting participant. Callers resolve
// these through the directory boundary; in particular Role already reflects
// the organization-owner elevation rule, which must never be re-derived here.
type Context struct {
	Identity      string
	Role          Role
	EventBanned   bool
	ChatBanned    bool
	ChatBanExpiry *time.Time // nil means permanent while ChatBanned
	Now           time.Time
	// SegmentSpeaker is true when the identity speaks at the room's program
	// segment. Only consulted for session-backstage rooms.
	SegmentSpeaker bool
}

// Decision is the verdict of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the affirmative decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a denial with a human-readable reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// chatBanActive reports whether a chat ban is still in force at ctx.Now.
func chatBanActive(ctx Context) bool {
	if !ctx.ChatBanned {
		return false
	}
	if ctx.ChatBanExpiry == nil {
		return true
	}
	return ctx.Now.Before(*ctx.ChatBanExpiry)
}

// CanAccess decides whether the participant described by ctx may perform
// action on room.
//
// Event bans are absolute: a banned identity is denied every action on every
// room category of that event. Chat bans deny writes only; join and read stay
// available so a chat-banned participant can still follow along.
func CanAccess(action Action, room Room, ctx Context) Decision {
	if ctx.EventBanned {
		return Deny(ReasonEventBanned)
	}
	if ctx.Role == RoleNone {
		return Deny(ReasonNotParticipant)
	}
	if !room.Enabled {
		return Deny(ReasonRoomDisabled)
	}
	if action == ActionWrite && chatBanActive(ctx) {
		return Deny(ReasonChatBanned)
	}
	if action == ActionModerate {
		if ctx.Role == RoleAdministrator || ctx.Role == RoleOrganizer || ctx.Role == RoleModerator {
			return Allow()
		}
		return Deny(ReasonRoleRequired)
	}

	switch room.Category {
	case CategoryGlobal, CategorySessionPublic:
		// Any event participant not banned.
		return Allow()
	case CategoryAdminOnly:
		if ctx.Role == RoleAdministrator || ctx.Role == RoleOrganizer {
			return Allow()
		}
		return Deny(ReasonRoleRequired)
	case CategoryGreenRoom:
		if ctx.Role == RoleAdministrator || ctx.Role == RoleOrganizer || ctx.Role == RoleSpeaker {
			return Allow()
		}
		return Deny(ReasonRoleRequired)
	case CategorySessionBackstage:
		if ctx.Role == RoleAdministrator || ctx.Role == RoleOrganizer {
			return Allow()
		}
		if ctx.SegmentSpeaker {
			return Allow()
		}
		return Deny(ReasonNotSpeaker)
	default:
		return Deny(ReasonRoleRequired)
	}
}
