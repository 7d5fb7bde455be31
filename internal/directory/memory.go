package directory

import (
	"context"
	"sync"
	"time"

	"github.com/onstagehq/onstage/internal/access"
)

// Memory is an in-memory Directory implementation. Thread-safe via RWMutex.
// Used in unit tests and single-process development mode.
type Memory struct {
	mu            sync.RWMutex
	participants  map[string]*Participant       // "eventID/identity" -> participant
	rooms         map[string]*RoomDescriptor    // roomID -> descriptor
	eventOrg      map[string]string             // eventID -> owning organization id
	orgOwners     map[string]map[string]bool    // orgID -> set of owner identities
	speakers      map[string]map[string]bool    // programSegmentID -> set of speaker identities
	moderationLog map[string][]ModerationLogEntry // eventID -> append-only audit trail
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		participants:  make(map[string]*Participant),
		rooms:         make(map[string]*RoomDescriptor),
		eventOrg:      make(map[string]string),
		orgOwners:     make(map[string]map[string]bool),
		speakers:      make(map[string]map[string]bool),
		moderationLog: make(map[string][]ModerationLogEntry),
	}
}

func participantKey(eventID, identity string) string {
	return eventID + "/" + identity
}

// PutParticipant inserts or replaces a participant record.
func (m *Memory) PutParticipant(p Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := p
	m.participants[participantKey(p.EventID, p.Identity)] = &cp
}

// PutRoom inserts or replaces a room descriptor.
func (m *Memory) PutRoom(r RoomDescriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := r
	m.rooms[r.ID] = &cp
}

// SetEventOrganization records which organization owns an event.
func (m *Memory) SetEventOrganization(eventID, orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventOrg[eventID] = orgID
}

// AddOrganizationOwner registers an identity as an owner of an organization.
func (m *Memory) AddOrganizationOwner(orgID, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.orgOwners[orgID] == nil {
		m.orgOwners[orgID] = make(map[string]bool)
	}
	m.orgOwners[orgID][identity] = true
}

// AddSpeaker registers an identity as a speaker of a program segment.
func (m *Memory) AddSpeaker(programSegmentID, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.speakers[programSegmentID] == nil {
		m.speakers[programSegmentID] = make(map[string]bool)
	}
	m.speakers[programSegmentID][identity] = true
}

// EventRoleOf resolves an identity's role in an event, applying the
// organization-owner elevation rule when no explicit record exists.
func (m *Memory) EventRoleOf(ctx context.Context, identity, eventID string) (access.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.participants[participantKey(eventID, identity)]; ok {
		return p.Role, nil
	}
	if orgID, ok := m.eventOrg[eventID]; ok {
		if m.orgOwners[orgID][identity] {
			return access.RoleAdministrator, nil
		}
	}
	return access.RoleNone, nil
}

// IsEventBanned reports whether the identity is banned from the event.
func (m *Memory) IsEventBanned(ctx context.Context, identity, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.participants[participantKey(eventID, identity)]; ok {
		return p.EventBanned, nil
	}
	return false, nil
}

// IsChatBanned reports whether the identity is chat-banned, with the optional expiry.
func (m *Memory) IsChatBanned(ctx context.Context, identity, eventID string) (bool, *time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[participantKey(eventID, identity)]
	if !ok || !p.ChatBanned {
		return false, nil, nil
	}
	if p.ChatBanExpiry != nil {
		expiry := *p.ChatBanExpiry
		return true, &expiry, nil
	}
	return true, nil, nil
}

// RoomDescriptor returns the descriptor for a room id.
func (m *Memory) RoomDescriptor(ctx context.Context, roomID string) (*RoomDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

// RoomsOfEvent lists all rooms belonging to an event.
func (m *Memory) RoomsOfEvent(ctx context.Context, eventID string) ([]RoomDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []RoomDescriptor
	for _, r := range m.rooms {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	return out, nil
}

// IsSpeakerOf reports whether the identity speaks at the program segment.
func (m *Memory) IsSpeakerOf(ctx context.Context, identity, programSegmentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.speakers[programSegmentID][identity], nil
}

// EventIDsOf lists the events an identity participates in, including events
// it reaches through organization ownership.
func (m *Memory) EventIDsOf(ctx context.Context, identity string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for _, p := range m.participants {
		if p.Identity == identity {
			seen[p.EventID] = true
		}
	}
	for eventID, orgID := range m.eventOrg {
		if m.orgOwners[orgID][identity] {
			seen[eventID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// EventAdminCount counts explicit administrator participants of an event.
func (m *Memory) EventAdminCount(ctx context.Context, eventID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, p := range m.participants {
		if p.EventID == eventID && p.Role == access.RoleAdministrator && !p.EventBanned {
			count++
		}
	}
	return count, nil
}

// SetEventBan flips the event-ban flag on a participant record.
func (m *Memory) SetEventBan(ctx context.Context, identity, eventID string, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantKey(eventID, identity)]
	if !ok {
		return ErrParticipantNotFound
	}
	p.EventBanned = banned
	return nil
}

// SetChatBan sets the chat-ban flag with an optional expiry (nil = permanent).
func (m *Memory) SetChatBan(ctx context.Context, identity, eventID string, expiry *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantKey(eventID, identity)]
	if !ok {
		return ErrParticipantNotFound
	}
	p.ChatBanned = true
	if expiry != nil {
		cp := *expiry
		p.ChatBanExpiry = &cp
	} else {
		p.ChatBanExpiry = nil
	}
	return nil
}

// ClearChatBan lifts a chat ban.
func (m *Memory) ClearChatBan(ctx context.Context, identity, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantKey(eventID, identity)]
	if !ok {
		return ErrParticipantNotFound
	}
	p.ChatBanned = false
	p.ChatBanExpiry = nil
	return nil
}

// AppendModerationLog appends a structured audit record for an event.
func (m *Memory) AppendModerationLog(ctx context.Context, eventID string, entry ModerationLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.moderationLog[eventID] = append(m.moderationLog[eventID], entry)
	return nil
}

// ModerationLog returns a copy of an event's audit trail, oldest first.
func (m *Memory) ModerationLog(eventID string) []ModerationLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.moderationLog[eventID]
	out := make([]ModerationLogEntry, len(entries))
	copy(out, entries)
	return out
}
