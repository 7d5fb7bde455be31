// Package moderation enforces ban and chat-ban state transitions with
// role-hierarchy and self-protection invariants. Invariant violations are
// reported as ordinary denials, never as internal errors.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onstagehq/onstage/internal/access"
	"github.com/onstagehq/onstage/internal/directory"
)

// Denial reasons surfaced to the acting moderator.
const (
	ReasonNotParticipant    = "both actor and target must be participants of the event"
	ReasonSelfModeration    = "cannot moderate yourself"
	ReasonActorBanned       = "banned users cannot moderate others"
	ReasonRoleGate          = "insufficient role to moderate this participant"
	ReasonLastAdmin         = "cannot ban the last admin"
	ReasonAlreadyBanned     = "target is already banned from this event"
	ReasonAlreadyChatBanned = "target already has an active chat ban"
	ReasonNegativeDuration  = "chat ban duration cannot be negative"
)

// Audit action names recorded in the moderation log.
const (
	ActionBan       = "ban"
	ActionUnban     = "unban"
	ActionChatBan   = "chat_ban"
	ActionChatUnban = "chat_unban"
)

// DenialError is a refused moderation action with a human-readable reason.
type DenialError struct {
	Reason string
}

func (e *DenialError) Error() string { return e.Reason }

// deny builds a DenialError.
func deny(reason string) error { return &DenialError{Reason: reason} }

// Gate performs moderation actions against the directory boundary.
type Gate struct {
	dir    directory.Directory
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a moderation gate.
func NewGate(dir directory.Directory, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{dir: dir, logger: logger, now: time.Now}
}

// NewGateWithClock creates a gate with an injected clock, for tests.
func NewGateWithClock(dir directory.Directory, logger *slog.Logger, now func() time.Time) *Gate {
	g := NewGate(dir, logger)
	g.now = now
	return g
}

// canTarget implements the role gate: administrators may moderate anyone,
// organizers may moderate only attendees and speakers, no other role may
// moderate at all. Self-targeting is rejected before this check.
func canTarget(actor, target access.Role) bool {
	switch actor {
	case access.RoleAdministrator:
		return true
	case access.RoleOrganizer:
		return target == access.RoleAttendee || target == access.RoleSpeaker
	default:
		return false
	}
}

// preconditions runs the checks shared by all four moderation operations and
// returns the resolved actor and target roles.
func (g *Gate) preconditions(ctx context.Context, eventID, actor, target string) (access.Role, access.Role, error) {
	if actor == target {
		return access.RoleNone, access.RoleNone, deny(ReasonSelfModeration)
	}

	actorRole, err := g.dir.EventRoleOf(ctx, actor, eventID)
	if err != nil {
		return access.RoleNone, access.RoleNone, fmt.Errorf("resolve actor role: %w", err)
	}
	targetRole, err := g.dir.EventRoleOf(ctx, target, eventID)
	if err != nil {
		return access.RoleNone, access.RoleNone, fmt.Errorf("resolve target role: %w", err)
	}
	if actorRole == access.RoleNone || targetRole == access.RoleNone {
		return actorRole, targetRole, deny(ReasonNotParticipant)
	}

	actorBanned, err := g.dir.IsEventBanned(ctx, actor, eventID)
	if err != nil {
		return actorRole, targetRole, fmt.Errorf("resolve actor ban: %w", err)
	}
	if actorBanned {
		return actorRole, targetRole, deny(ReasonActorBanned)
	}

	if !canTarget(actorRole, targetRole) {
		return actorRole, targetRole, deny(ReasonRoleGate)
	}
	return actorRole, targetRole, nil
}

// audit appends a structured record to the event's moderation log.
// Audit failures are logged but do not undo the already-applied action.
func (g *Gate) audit(ctx context.Context, eventID, actor, target, action, reason string) {
	entry := directory.ModerationLogEntry{
		Timestamp: g.now().UTC(),
		Actor:     actor,
		Target:    target,
		Action:    action,
		Reason:    reason,
	}
	if err := g.dir.AppendModerationLog(ctx, eventID, entry); err != nil {
		g.logger.Error("failed to append moderation log",
			"error", err,
			"event_id", eventID,
			"action", action,
		)
	}
}

// BanFromEvent bans the target from the event entirely.
//
// The last remaining administrator of an event can never be banned; this
// mirrors the last-owner invariant the CRUD layer enforces on admin removal,
// and both paths funnel through the same check here.
func (g *Gate) BanFromEvent(ctx context.Context, eventID, actor, target, reason string) error {
	_, targetRole, err := g.preconditions(ctx, eventID, actor, target)
	if err != nil {
		return err
	}

	alreadyBanned, err := g.dir.IsEventBanned(ctx, target, eventID)
	if err != nil {
		return fmt.Errorf("resolve target ban: %w", err)
	}
	if alreadyBanned {
		return deny(ReasonAlreadyBanned)
	}

	if targetRole == access.RoleAdministrator {
		if err := g.requireAnotherAdmin(ctx, eventID); err != nil {
			return err
		}
	}

	if err := g.dir.SetEventBan(ctx, target, eventID, true); err != nil {
		return fmt.Errorf("apply event ban: %w", err)
	}
	g.audit(ctx, eventID, actor, target, ActionBan, reason)
	return nil
}

// UnbanFromEvent lifts an event ban.
func (g *Gate) UnbanFromEvent(ctx context.Context, eventID, actor, target, reason string) error {
	if _, _, err := g.preconditions(ctx, eventID, actor, target); err != nil {
		return err
	}
	if err := g.dir.SetEventBan(ctx, target, eventID, false); err != nil {
		return fmt.Errorf("lift event ban: %w", err)
	}
	g.audit(ctx, eventID, actor, target, ActionUnban, reason)
	return nil
}

// ChatBan suspends the target's write access for the given duration.
// A zero duration means the ban is permanent until explicitly cleared;
// a negative duration is refused. Chat-banning an event-banned target is
// rejected as redundant.
func (g *Gate) ChatBan(ctx context.Context, eventID, actor, target string, duration time.Duration, reason string) error {
	if duration < 0 {
		return deny(ReasonNegativeDuration)
	}
	if _, _, err := g.preconditions(ctx, eventID, actor, target); err != nil {
		return err
	}

	eventBanned, err := g.dir.IsEventBanned(ctx, target, eventID)
	if err != nil {
		return fmt.Errorf("resolve target ban: %w", err)
	}
	if eventBanned {
		return deny(ReasonAlreadyBanned)
	}

	chatBanned, expiry, err := g.dir.IsChatBanned(ctx, target, eventID)
	if err != nil {
		return fmt.Errorf("resolve target chat ban: %w", err)
	}
	if chatBanned && (expiry == nil || g.now().Before(*expiry)) {
		return deny(ReasonAlreadyChatBanned)
	}

	var until *time.Time
	if duration > 0 {
		t := g.now().Add(duration).UTC()
		until = &t
	}
	if err := g.dir.SetChatBan(ctx, target, eventID, until); err != nil {
		return fmt.Errorf("apply chat ban: %w", err)
	}
	g.audit(ctx, eventID, actor, target, ActionChatBan, reason)
	return nil
}

// ChatUnban lifts a chat ban.
func (g *Gate) ChatUnban(ctx context.Context, eventID, actor, target, reason string) error {
	if _, _, err := g.preconditions(ctx, eventID, actor, target); err != nil {
		return err
	}
	if err := g.dir.ClearChatBan(ctx, target, eventID); err != nil {
		return fmt.Errorf("lift chat ban: %w", err)
	}
	g.audit(ctx, eventID, actor, target, ActionChatUnban, reason)
	return nil
}

// requireAnotherAdmin denies the action when the event has at most one
// remaining administrator.
func (g *Gate) requireAnotherAdmin(ctx context.Context, eventID string) error {
	count, err := g.dir.EventAdminCount(ctx, eventID)
	if err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if count <= 1 {
		return deny(ReasonLastAdmin)
	}
	return nil
}
