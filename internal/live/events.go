package live

import "time"

// Broadcast group naming. A connection always belongs to its identity group
// and the group of every event it participates in; room groups are joined and
// left with the room itself.
func IdentityGroup(identity string) string { return "identity:" + identity }
func EventGroup(eventID string) string     { return "event:" + eventID }
func RoomGroup(roomID string) string       { return "room:" + roomID }

// Event types sent to subscribers.
const (
	EventOccupancy  = "occupancy"
	EventChat       = "chat"
	EventTyping     = "typing"
	EventModeration = "moderation"
)

// OccupancyEvent announces a room's updated occupancy after a join or leave.
type OccupancyEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"room_id"`
	Identity string `json:"identity"`
	Joined   bool   `json:"joined"`
	Count    int64  `json:"count"`
}

// ChatMessageEvent carries one chat message to a room's subscribers. The
// message itself is not persisted here; durability belongs to the chat
// storage service.
type ChatMessageEvent struct {
	Type   string    `json:"type"`
	RoomID string    `json:"room_id"`
	From   string    `json:"from"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// TypingEvent announces a typing state change in a scope.
type TypingEvent struct {
	Type     string `json:"type"`
	ScopeID  string `json:"scope_id"`
	Identity string `json:"identity"`
	Typing   bool   `json:"typing"`
}

// ModerationEvent announces a completed moderation action to an event's
// subscribers. Denials are never broadcast.
type ModerationEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Action  string `json:"action"`
	Target  string `json:"target"`
}
