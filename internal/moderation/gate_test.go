package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onstagehq/onstage/internal/access"
	"github.com/onstagehq/onstage/internal/directory"
)

const testEvent = "ev-1"

// seedEvent builds a directory with one participant per role.
func seedEvent(t *testing.T) *directory.Memory {
	t.Helper()
	dir := directory.NewMemory()
	for identity, role := range map[string]access.Role{
		"admin-1":    access.RoleAdministrator,
		"admin-2":    access.RoleAdministrator,
		"organizer":  access.RoleOrganizer,
		"moderator":  access.RoleModerator,
		"speaker":    access.RoleSpeaker,
		"attendee":   access.RoleAttendee,
		"attendee-2": access.RoleAttendee,
	} {
		dir.PutParticipant(directory.Participant{
			Identity: identity,
			EventID:  testEvent,
			Role:     role,
		})
	}
	return dir
}

func wantDenial(t *testing.T, err error, reason string) {
	t.Helper()
	var denial *DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
	if denial.Reason != reason {
		t.Errorf("denial reason = %q, want %q", denial.Reason, reason)
	}
}

func TestBanFromEvent(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	if err := gate.BanFromEvent(ctx, testEvent, "admin-1", "attendee", "spamming"); err != nil {
		t.Fatalf("BanFromEvent: %v", err)
	}

	banned, err := dir.IsEventBanned(ctx, "attendee", testEvent)
	if err != nil {
		t.Fatalf("IsEventBanned: %v", err)
	}
	if !banned {
		t.Error("attendee should be banned")
	}

	log := dir.ModerationLog(testEvent)
	if len(log) != 1 {
		t.Fatalf("moderation log has %d entries, want 1", len(log))
	}
	entry := log[0]
	if entry.Actor != "admin-1" || entry.Target != "attendee" || entry.Action != ActionBan || entry.Reason != "spamming" {
		t.Errorf("log entry = %+v", entry)
	}
	if entry.Timestamp.IsZero() {
		t.Error("log entry timestamp not set")
	}
}

func TestBanFromEvent_Denials(t *testing.T) {
	tests := []struct {
		name   string
		actor  string
		target string
		reason string
	}{
		{"self moderation", "admin-1", "admin-1", ReasonSelfModeration},
		{"actor not participant", "stranger", "attendee", ReasonNotParticipant},
		{"target not participant", "admin-1", "stranger", ReasonNotParticipant},
		{"organizer cannot ban organizer", "organizer", "moderator", ReasonRoleGate},
		{"moderator cannot ban at all", "moderator", "attendee", ReasonRoleGate},
		{"attendee cannot ban", "attendee", "attendee-2", ReasonRoleGate},
		{"organizer cannot ban admin", "organizer", "admin-1", ReasonRoleGate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(seedEvent(t), nil)
			err := gate.BanFromEvent(context.Background(), testEvent, tt.actor, tt.target, "x")
			wantDenial(t, err, tt.reason)
		})
	}
}

func TestBanFromEvent_BannedActorCannotModerate(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	if err := dir.SetEventBan(ctx, "admin-2", testEvent, true); err != nil {
		t.Fatalf("SetEventBan: %v", err)
	}

	err := gate.BanFromEvent(ctx, testEvent, "admin-2", "attendee", "x")
	wantDenial(t, err, ReasonActorBanned)
}

func TestBanFromEvent_AlreadyBanned(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	if err := gate.BanFromEvent(ctx, testEvent, "admin-1", "attendee", "first"); err != nil {
		t.Fatalf("first ban: %v", err)
	}
	err := gate.BanFromEvent(ctx, testEvent, "admin-1", "attendee", "second")
	wantDenial(t, err, ReasonAlreadyBanned)
}

func TestBanFromEvent_LastAdminProtected(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	// With two admins, banning one is fine.
	if err := gate.BanFromEvent(ctx, testEvent, "admin-1", "admin-2", "misconduct"); err != nil {
		t.Fatalf("banning one of two admins: %v", err)
	}

	// admin-1 is now the last remaining admin. An org-owner elevated admin
	// cannot ban them either.
	dir.SetEventOrganization(testEvent, "org-1")
	dir.AddOrganizationOwner("org-1", "owner")

	err := gate.BanFromEvent(ctx, testEvent, "owner", "admin-1", "x")
	wantDenial(t, err, ReasonLastAdmin)
}

func TestUnbanFromEvent(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	if err := gate.BanFromEvent(ctx, testEvent, "admin-1", "attendee", "x"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := gate.UnbanFromEvent(ctx, testEvent, "admin-1", "attendee", "appeal accepted"); err != nil {
		t.Fatalf("unban: %v", err)
	}

	banned, _ := dir.IsEventBanned(ctx, "attendee", testEvent)
	if banned {
		t.Error("attendee should be unbanned")
	}

	log := dir.ModerationLog(testEvent)
	if len(log) != 2 || log[1].Action != ActionUnban {
		t.Errorf("expected ban then unban in log, got %+v", log)
	}
}

func TestChatBan_Timed(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := seedEvent(t)
	gate := NewGateWithClock(dir, nil, func() time.Time { return clock })
	ctx := context.Background()

	if err := gate.ChatBan(ctx, testEvent, "organizer", "attendee", 30*time.Minute, "flooding"); err != nil {
		t.Fatalf("ChatBan: %v", err)
	}

	banned, expiry, err := dir.IsChatBanned(ctx, "attendee", testEvent)
	if err != nil {
		t.Fatalf("IsChatBanned: %v", err)
	}
	if !banned {
		t.Fatal("attendee should be chat banned")
	}
	if expiry == nil {
		t.Fatal("timed ban should carry an expiry")
	}
	want := clock.Add(30 * time.Minute).UTC()
	if !expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", expiry, want)
	}
}

func TestChatBan_PermanentAndReplaceExpired(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := seedEvent(t)
	gate := NewGateWithClock(dir, nil, func() time.Time { return clock })
	ctx := context.Background()

	// Zero duration means permanent.
	if err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee", 0, "x"); err != nil {
		t.Fatalf("permanent ChatBan: %v", err)
	}
	banned, expiry, _ := dir.IsChatBanned(ctx, "attendee", testEvent)
	if !banned || expiry != nil {
		t.Errorf("permanent ban = (%v, %v), want (true, nil)", banned, expiry)
	}

	// Stacking on an active ban is refused.
	err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee", time.Hour, "again")
	wantDenial(t, err, ReasonAlreadyChatBanned)

	// A timed ban on another target can be re-applied once it lapses.
	if err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee-2", time.Minute, "x"); err != nil {
		t.Fatalf("timed ChatBan: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee-2", time.Minute, "y"); err != nil {
		t.Errorf("re-ban after expiry should succeed, got %v", err)
	}
}

func TestChatBan_NegativeDurationRejected(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee", -time.Minute, "x")
	wantDenial(t, err, ReasonNegativeDuration)

	// A refused duration must not leave a permanent ban behind.
	banned, _, _ := dir.IsChatBanned(ctx, "attendee", testEvent)
	if banned {
		t.Error("rejected chat ban must not mutate the directory")
	}
}

func TestChatBan_EventBannedTargetRejected(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	if err := gate.BanFromEvent(ctx, testEvent, "admin-1", "attendee", "x"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee", time.Hour, "x")
	wantDenial(t, err, ReasonAlreadyBanned)
}

func TestChatUnban(t *testing.T) {
	dir := seedEvent(t)
	gate := NewGate(dir, nil)
	ctx := context.Background()

	if err := gate.ChatBan(ctx, testEvent, "admin-1", "attendee", 0, "x"); err != nil {
		t.Fatalf("ChatBan: %v", err)
	}
	if err := gate.ChatUnban(ctx, testEvent, "admin-1", "attendee", "cooled off"); err != nil {
		t.Fatalf("ChatUnban: %v", err)
	}

	banned, _, _ := dir.IsChatBanned(ctx, "attendee", testEvent)
	if banned {
		t.Error("chat ban should be lifted")
	}
}

func TestOrganizerMayModerateAttendeesAndSpeakers(t *testing.T) {
	for _, target := range []string{"attendee", "speaker"} {
		t.Run(target, func(t *testing.T) {
			gate := NewGate(seedEvent(t), nil)
			if err := gate.ChatBan(context.Background(), testEvent, "organizer", target, time.Hour, "x"); err != nil {
				t.Errorf("organizer chat-banning %s: %v", target, err)
			}
		})
	}
}
