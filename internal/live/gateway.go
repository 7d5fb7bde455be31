package live

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onstagehq/onstage/internal/access"
	"github.com/onstagehq/onstage/internal/auth"
	"github.com/onstagehq/onstage/internal/directory"
	"github.com/onstagehq/onstage/internal/moderation"
	"github.com/onstagehq/onstage/internal/presence"
	"github.com/onstagehq/onstage/internal/session"
	"github.com/onstagehq/onstage/internal/store"
	"github.com/onstagehq/onstage/internal/typing"
	"github.com/onstagehq/onstage/internal/viewership"
)

// Gateway is the entry point for every inbound connection event. It owns the
// session registry and composes the trackers, the authorizer, and the
// moderation gate behind one surface the transport layer calls into.
//
// Every operation except OnConnect runs the authentication guard first; an
// unauthenticated connection is rejected with no side effects. Shared-store
// failures degrade to zero or empty results and never terminate a
// connection.
type Gateway struct {
	registry    *session.Registry
	rooms       presence.Tracker
	viewers     *viewership.Tracker
	typing      typing.Tracker
	dir         directory.Directory
	gate        *moderation.Gate
	tokens      *auth.JWTService
	broadcaster *Broadcaster
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewGateway wires a gateway from its collaborators.
func NewGateway(
	registry *session.Registry,
	rooms presence.Tracker,
	viewers *viewership.Tracker,
	typingTracker typing.Tracker,
	dir directory.Directory,
	gate *moderation.Gate,
	tokens *auth.JWTService,
	broadcaster *Broadcaster,
	metrics *Metrics,
	logger *slog.Logger,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Gateway{
		registry:    registry,
		rooms:       rooms,
		viewers:     viewers,
		typing:      typingTracker,
		dir:         dir,
		gate:        gate,
		tokens:      tokens,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Broadcaster exposes the broadcaster so the transport layer can manage
// group subscriptions for the connections it owns.
func (g *Gateway) Broadcaster() *Broadcaster { return g.broadcaster }

// Registry exposes the session registry for transport-level bookkeeping.
func (g *Gateway) Registry() *session.Registry { return g.registry }

// identityFor is the authentication guard. It also records activity, which
// feeds the idle sweep.
func (g *Gateway) identityFor(connectionID string) (string, error) {
	identity, ok := g.registry.IdentityOf(connectionID)
	if !ok {
		return "", ErrAuthenticationRequired
	}
	g.registry.Touch(connectionID)
	return identity, nil
}

// degraded reports whether err is a soft store failure. If so it is logged
// and counted and the caller returns an empty result instead of the error.
func (g *Gateway) degraded(op string, err error) bool {
	if err == nil || !errors.Is(err, store.ErrUnavailable) {
		return false
	}
	g.metrics.IncStoreFailures(op)
	g.logger.Warn("store unavailable, degrading", "operation", op, "error", err)
	return true
}

// OnConnect authenticates a new connection from its raw token and registers
// the session. Authentication failure is the one error that should close the
// connection.
func (g *Gateway) OnConnect(_ context.Context, connectionID, rawToken string) (string, error) {
	identity, err := g.tokens.VerifyAccessToken(rawToken)
	if err != nil {
		g.metrics.IncAuthFailures()
		g.logger.Info("connection authentication failed", "connection_id", connectionID, "error", err)
		return "", ErrAuthenticationFailed
	}

	g.registry.Authenticate(connectionID, identity)
	g.metrics.IncConnects()
	g.logger.Info("connection authenticated", "connection_id", connectionID, "identity", identity)
	return identity, nil
}

// OnDisconnect removes the connection's footprint from every tracker. All of
// this is best effort; TTL expiry is the backstop when any of it fails.
func (g *Gateway) OnDisconnect(ctx context.Context, connectionID string) {
	identity, ok := g.registry.IdentityOf(connectionID)
	g.registry.Remove(connectionID)
	if !ok {
		return
	}
	g.metrics.IncDisconnects()
	g.cleanupFootprint(ctx, identity)
	g.logger.Info("connection closed", "connection_id", connectionID, "identity", identity)
}

// cleanupFootprint removes the identity from rooms, segments, and typing
// hashes. Shared across disconnect and the idle sweep.
func (g *Gateway) cleanupFootprint(ctx context.Context, identity string) {
	if _, err := g.rooms.Cleanup(ctx, identity); err != nil && !g.degraded("cleanup_rooms", err) {
		g.logger.Error("room cleanup failed", "identity", identity, "error", err)
	}
	if _, err := g.viewers.Presence.Cleanup(ctx, identity); err != nil && !g.degraded("cleanup_segments", err) {
		g.logger.Error("segment cleanup failed", "identity", identity, "error", err)
	}
	if _, err := g.typing.CleanupAll(ctx, identity); err != nil && !g.degraded("cleanup_typing", err) {
		g.logger.Error("typing cleanup failed", "identity", identity, "error", err)
	}
}

// OnHeartbeat refreshes the connection's activity time and re-arms presence
// TTLs for every scope the identity occupies.
func (g *Gateway) OnHeartbeat(ctx context.Context, connectionID string) error {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return err
	}

	if err := g.rooms.RefreshTTL(ctx, identity); err != nil && !g.degraded("heartbeat_rooms", err) {
		return err
	}
	if err := g.viewers.Presence.RefreshTTL(ctx, identity); err != nil && !g.degraded("heartbeat_segments", err) {
		return err
	}
	return nil
}

// accessContext resolves the directory facts CanAccess needs for one
// (identity, room) pair. The directory is the persistent CRUD layer, not the
// ephemeral store, so its errors are real errors rather than degradation.
func (g *Gateway) accessContext(ctx context.Context, identity string, room *directory.RoomDescriptor) (access.Context, error) {
	role, err := g.dir.EventRoleOf(ctx, identity, room.EventID)
	if err != nil {
		return access.Context{}, err
	}
	banned, err := g.dir.IsEventBanned(ctx, identity, room.EventID)
	if err != nil && !errors.Is(err, directory.ErrParticipantNotFound) {
		return access.Context{}, err
	}
	chatBanned, expiry, err := g.dir.IsChatBanned(ctx, identity, room.EventID)
	if err != nil && !errors.Is(err, directory.ErrParticipantNotFound) {
		return access.Context{}, err
	}

	actx := access.Context{
		Identity:      identity,
		Role:          role,
		EventBanned:   banned,
		ChatBanned:    chatBanned,
		ChatBanExpiry: expiry,
		Now:           g.now(),
	}
	if room.ProgramSegmentID != "" {
		speaker, err := g.dir.IsSpeakerOf(ctx, identity, room.ProgramSegmentID)
		if err != nil {
			return access.Context{}, err
		}
		actx.SegmentSpeaker = speaker
	}
	return actx, nil
}

// authorize runs the access check for one action on one room and converts a
// denial into a DeniedError.
func (g *Gateway) authorize(ctx context.Context, identity, roomID string, action access.Action) (*directory.RoomDescriptor, error) {
	room, err := g.dir.RoomDescriptor(ctx, roomID)
	if err != nil {
		return nil, err
	}
	actx, err := g.accessContext(ctx, identity, room)
	if err != nil {
		return nil, err
	}

	decision := access.CanAccess(action, access.Room{
		ID:               room.ID,
		Category:         room.Category,
		EventID:          room.EventID,
		ProgramSegmentID: room.ProgramSegmentID,
		Enabled:          room.Enabled,
	}, actx)
	if !decision.Allowed {
		g.metrics.IncDenials(string(action))
		return nil, denied(decision.Reason)
	}
	return room, nil
}

// OnJoinRoom authorizes and records a room join, then announces the updated
// occupancy to the room. Returns the occupancy count, which is zero when the
// store is degraded.
func (g *Gateway) OnJoinRoom(ctx context.Context, connectionID, roomID string) (int64, error) {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return 0, err
	}
	if _, err := g.authorize(ctx, identity, roomID, access.ActionJoin); err != nil {
		return 0, err
	}

	count, err := g.rooms.Join(ctx, roomID, identity)
	if err != nil {
		if g.degraded("join_room", err) {
			return 0, nil
		}
		return 0, err
	}
	g.metrics.IncRoomJoins()
	g.broadcaster.Broadcast(RoomGroup(roomID), OccupancyEvent{
		Type:     EventOccupancy,
		RoomID:   roomID,
		Identity: identity,
		Joined:   true,
		Count:    count,
	})
	return count, nil
}

// OnLeaveRoom removes the identity from the room. Leaving a room never
// requires authorization.
func (g *Gateway) OnLeaveRoom(ctx context.Context, connectionID, roomID string) (int64, error) {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return 0, err
	}

	count, err := g.rooms.Leave(ctx, roomID, identity)
	if err != nil {
		if g.degraded("leave_room", err) {
			return 0, nil
		}
		return 0, err
	}
	g.metrics.IncRoomLeaves()
	g.broadcaster.Broadcast(RoomGroup(roomID), OccupancyEvent{
		Type:     EventOccupancy,
		RoomID:   roomID,
		Identity: identity,
		Joined:   false,
		Count:    count,
	})
	return count, nil
}

// OnSendMessage authorizes a chat write and broadcasts the message to the
// room. Persistence belongs to the chat storage service, which runs after
// this check, so no unauthorized message is ever stored or fanned out.
func (g *Gateway) OnSendMessage(ctx context.Context, connectionID, roomID, body string) error {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return err
	}
	if _, err := g.authorize(ctx, identity, roomID, access.ActionWrite); err != nil {
		return err
	}

	g.broadcaster.Broadcast(RoomGroup(roomID), ChatMessageEvent{
		Type:   EventChat,
		RoomID: roomID,
		From:   identity,
		Body:   body,
		SentAt: g.now(),
	})
	return nil
}

// OnJoinAdminMonitor returns current occupancy for every room of an event.
// Restricted to roles that can moderate; an event ban refuses the feed
// regardless of role. Degraded store reads produce zero counts, not errors.
func (g *Gateway) OnJoinAdminMonitor(ctx context.Context, connectionID, eventID string) (map[string]int64, error) {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return nil, err
	}

	banned, err := g.dir.IsEventBanned(ctx, identity, eventID)
	if err != nil {
		return nil, err
	}
	if banned {
		g.metrics.IncDenials("admin_monitor")
		return nil, denied(access.ReasonEventBanned)
	}

	role, err := g.dir.EventRoleOf(ctx, identity, eventID)
	if err != nil {
		return nil, err
	}
	switch role {
	case access.RoleAdministrator, access.RoleOrganizer, access.RoleModerator:
	default:
		g.metrics.IncDenials("admin_monitor")
		return nil, denied(access.ReasonRoleRequired)
	}

	rooms, err := g.dir.RoomsOfEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	occupancy := make(map[string]int64, len(rooms))
	for _, room := range rooms {
		count, err := g.rooms.OccupancyCount(ctx, room.ID)
		if err != nil {
			if !g.degraded("admin_monitor", err) {
				return nil, err
			}
			count = 0
		}
		occupancy[room.ID] = count
	}
	return occupancy, nil
}

// OnWatchSegment records the identity as viewing a program segment and
// counts the visit. Returns the segment's viewer count.
func (g *Gateway) OnWatchSegment(ctx context.Context, connectionID, segmentID string) (int64, error) {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return 0, err
	}

	count, err := g.viewers.Watch(ctx, segmentID, identity)
	if err != nil {
		if g.degraded("watch_segment", err) {
			return count, nil
		}
		return 0, err
	}
	return count, nil
}

// OnUnwatchSegment removes the identity from a segment and credits the
// watched duration.
func (g *Gateway) OnUnwatchSegment(ctx context.Context, connectionID, segmentID string, watched time.Duration) (int64, error) {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return 0, err
	}

	count, err := g.viewers.Unwatch(ctx, segmentID, identity, watched)
	if err != nil {
		if g.degraded("unwatch_segment", err) {
			return count, nil
		}
		return 0, err
	}
	return count, nil
}

// OnSetTyping updates the typing indicator for a scope and announces the
// change. Typing is best effort; a degraded store drops the update silently.
func (g *Gateway) OnSetTyping(ctx context.Context, connectionID, scopeID string, isTyping bool) error {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return err
	}

	if err := g.typing.SetTyping(ctx, scopeID, identity, isTyping); err != nil {
		if g.degraded("set_typing", err) {
			return nil
		}
		return err
	}
	g.broadcaster.Broadcast(RoomGroup(scopeID), TypingEvent{
		Type:     EventTyping,
		ScopeID:  scopeID,
		Identity: identity,
		Typing:   isTyping,
	})
	return nil
}

// OnQueryTyping returns the scope's active typists, oldest first. Degrades
// to an empty list.
func (g *Gateway) OnQueryTyping(ctx context.Context, connectionID, scopeID string) ([]typing.Typist, error) {
	if _, err := g.identityFor(connectionID); err != nil {
		return nil, err
	}

	typists, err := g.typing.ActiveTypists(ctx, scopeID)
	if err != nil {
		if g.degraded("query_typing", err) {
			return nil, nil
		}
		return nil, err
	}
	return typists, nil
}

// moderate runs one moderation action and, on success, announces it to the
// event's subscribers. Gate denials become DeniedError.
func (g *Gateway) moderate(connectionID, eventID, target, action string, run func(actor string) error) error {
	identity, err := g.identityFor(connectionID)
	if err != nil {
		return err
	}

	if err := run(identity); err != nil {
		var d *moderation.DenialError
		if errors.As(err, &d) {
			g.metrics.IncDenials(action)
			return denied(d.Reason)
		}
		return err
	}

	g.broadcaster.Broadcast(EventGroup(eventID), ModerationEvent{
		Type:    EventModeration,
		EventID: eventID,
		Action:  action,
		Target:  target,
	})
	return nil
}

// OnBan bans the target from the event and evicts their live footprint
// the same way a disconnect does.
func (g *Gateway) OnBan(ctx context.Context, connectionID, eventID, target, reason string) error {
	err := g.moderate(connectionID, eventID, target, moderation.ActionBan, func(actor string) error {
		return g.gate.BanFromEvent(ctx, eventID, actor, target, reason)
	})
	if err != nil {
		return err
	}

	// A banned participant should not linger in occupancy, viewership, or
	// typing state until TTL.
	g.cleanupFootprint(ctx, target)
	return nil
}

// OnUnban lifts an event ban.
func (g *Gateway) OnUnban(ctx context.Context, connectionID, eventID, target, reason string) error {
	return g.moderate(connectionID, eventID, target, moderation.ActionUnban, func(actor string) error {
		return g.gate.UnbanFromEvent(ctx, eventID, actor, target, reason)
	})
}

// OnChatBan mutes the target in the event, permanently when duration is
// zero.
func (g *Gateway) OnChatBan(ctx context.Context, connectionID, eventID, target string, duration time.Duration, reason string) error {
	return g.moderate(connectionID, eventID, target, moderation.ActionChatBan, func(actor string) error {
		return g.gate.ChatBan(ctx, eventID, actor, target, duration, reason)
	})
}

// OnChatUnban lifts a chat ban.
func (g *Gateway) OnChatUnban(ctx context.Context, connectionID, eventID, target, reason string) error {
	return g.moderate(connectionID, eventID, target, moderation.ActionChatUnban, func(actor string) error {
		return g.gate.ChatUnban(ctx, eventID, actor, target, reason)
	})
}

// SweepIdle removes sessions with no activity for longer than maxIdle and
// cleans up their tracker footprint. Returns how many were swept. Runs on a
// fixed interval independent of any connection's lifecycle.
func (g *Gateway) SweepIdle(ctx context.Context, maxIdle time.Duration) int {
	swept := g.registry.SweepIdle(maxIdle)
	for _, rec := range swept {
		g.cleanupFootprint(ctx, rec.Identity)
		g.logger.Info("idle connection swept",
			"connection_id", rec.ConnectionID,
			"identity", rec.Identity,
			"last_activity", rec.LastActivity,
		)
	}
	if n := len(swept); n > 0 {
		g.metrics.AddIdleSwept(n)
	}
	return len(swept)
}

// RunIdleSweeper runs SweepIdle on the given interval until the context is
// cancelled. Start it once from main.
func (g *Gateway) RunIdleSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.SweepIdle(ctx, maxIdle)
		}
	}
}
