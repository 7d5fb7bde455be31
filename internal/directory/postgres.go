package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onstagehq/onstage/internal/access"
	"github.com/onstagehq/onstage/internal/tracing"
)

// Postgres implements Directory against the platform's relational schema.
//
// Expected tables (owned by the CRUD layer, read-mostly here):
//
//	event_participants(event_id, identity, role, event_banned, chat_banned, chat_ban_expiry)
//	rooms(id, event_id, category, program_segment_id, enabled)
//	events(id, organization_id)
//	organization_owners(organization_id, identity)
//	session_speakers(program_segment_id, identity)
//	moderation_log(id, event_id, actor, target, action, reason, created_at)
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres-backed directory.
func NewPostgres(db *sql.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// EventRoleOf resolves an identity's role in an event. When no explicit
// participant record exists, owners of the event's organization are elevated
// to administrator.
func (p *Postgres) EventRoleOf(ctx context.Context, identity, eventID string) (_ access.Role, retErr error) {
	ctx, end := tracing.StartDBSpan(ctx, "event_participants", tracing.DBOperationQuery)
	defer func() { end(retErr) }()

	var role string
	err := p.db.QueryRowContext(ctx,
		`SELECT role FROM event_participants WHERE event_id = $1 AND identity = $2`,
		eventID, identity).Scan(&role)
	switch {
	case err == nil:
		return access.Role(role), nil
	case err != sql.ErrNoRows:
		return access.RoleNone, fmt.Errorf("query participant role: %w", err)
	}

	var owner bool
	err = p.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM organization_owners oo
			JOIN events e ON e.organization_id = oo.organization_id
			WHERE e.id = $1 AND oo.identity = $2
		)`, eventID, identity).Scan(&owner)
	if err != nil {
		return access.RoleNone, fmt.Errorf("query organization owner: %w", err)
	}
	if owner {
		return access.RoleAdministrator, nil
	}
	return access.RoleNone, nil
}

// IsEventBanned reports whether the identity is banned from the event.
func (p *Postgres) IsEventBanned(ctx context.Context, identity, eventID string) (bool, error) {
	var banned bool
	err := p.db.QueryRowContext(ctx,
		`SELECT event_banned FROM event_participants WHERE event_id = $1 AND identity = $2`,
		eventID, identity).Scan(&banned)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query event ban: %w", err)
	}
	return banned, nil
}

// IsChatBanned reports whether the identity is chat-banned, with optional expiry.
func (p *Postgres) IsChatBanned(ctx context.Context, identity, eventID string) (bool, *time.Time, error) {
	var banned bool
	var expiry sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT chat_banned, chat_ban_expiry FROM event_participants WHERE event_id = $1 AND identity = $2`,
		eventID, identity).Scan(&banned, &expiry)
	if err == sql.ErrNoRows {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("query chat ban: %w", err)
	}
	if !banned {
		return false, nil, nil
	}
	if expiry.Valid {
		t := expiry.Time
		return true, &t, nil
	}
	return true, nil, nil
}

// RoomDescriptor returns the descriptor for a room id.
func (p *Postgres) RoomDescriptor(ctx context.Context, roomID string) (_ *RoomDescriptor, retErr error) {
	ctx, end := tracing.StartDBSpan(ctx, "rooms", tracing.DBOperationQuery)
	defer func() { end(retErr) }()

	var r RoomDescriptor
	var segment sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT id, event_id, category, program_segment_id, enabled FROM rooms WHERE id = $1`,
		roomID).Scan(&r.ID, &r.EventID, (*string)(&r.Category), &segment, &r.Enabled)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	if segment.Valid {
		r.ProgramSegmentID = segment.String
	}
	return &r, nil
}

// RoomsOfEvent lists all rooms belonging to an event.
func (p *Postgres) RoomsOfEvent(ctx context.Context, eventID string) ([]RoomDescriptor, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, event_id, category, program_segment_id, enabled FROM rooms WHERE event_id = $1 ORDER BY id`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("query event rooms: %w", err)
	}
	defer rows.Close()

	var out []RoomDescriptor
	for rows.Next() {
		var r RoomDescriptor
		var segment sql.NullString
		if err := rows.Scan(&r.ID, &r.EventID, (*string)(&r.Category), &segment, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		if segment.Valid {
			r.ProgramSegmentID = segment.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IsSpeakerOf reports whether the identity speaks at the program segment.
func (p *Postgres) IsSpeakerOf(ctx context.Context, identity, programSegmentID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_speakers WHERE program_segment_id = $1 AND identity = $2)`,
		programSegmentID, identity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query speaker: %w", err)
	}
	return exists, nil
}

// EventIDsOf lists events the identity participates in, including events
// reached through organization ownership.
func (p *Postgres) EventIDsOf(ctx context.Context, identity string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT event_id FROM event_participants WHERE identity = $1
		 UNION
		 SELECT e.id FROM events e
		 JOIN organization_owners oo ON oo.organization_id = e.organization_id
		 WHERE oo.identity = $1`,
		identity)
	if err != nil {
		return nil, fmt.Errorf("query events of identity: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// EventAdminCount counts non-banned administrator participants of an event.
func (p *Postgres) EventAdminCount(ctx context.Context, eventID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_participants
		 WHERE event_id = $1 AND role = $2 AND NOT event_banned`,
		eventID, string(access.RoleAdministrator)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

// SetEventBan flips the event-ban flag on a participant record.
func (p *Postgres) SetEventBan(ctx context.Context, identity, eventID string, banned bool) (retErr error) {
	ctx, end := tracing.StartDBSpan(ctx, "event_participants", tracing.DBOperationUpdate)
	defer func() { end(retErr) }()

	res, err := p.db.ExecContext(ctx,
		`UPDATE event_participants SET event_banned = $3 WHERE event_id = $1 AND identity = $2`,
		eventID, identity, banned)
	if err != nil {
		return fmt.Errorf("set event ban: %w", err)
	}
	return requireRow(res)
}

// SetChatBan sets the chat-ban flag with an optional expiry (NULL = permanent).
func (p *Postgres) SetChatBan(ctx context.Context, identity, eventID string, expiry *time.Time) error {
	var e sql.NullTime
	if expiry != nil {
		e = sql.NullTime{Time: *expiry, Valid: true}
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE event_participants SET chat_banned = TRUE, chat_ban_expiry = $3 WHERE event_id = $1 AND identity = $2`,
		eventID, identity, e)
	if err != nil {
		return fmt.Errorf("set chat ban: %w", err)
	}
	return requireRow(res)
}

// ClearChatBan lifts a chat ban.
func (p *Postgres) ClearChatBan(ctx context.Context, identity, eventID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE event_participants SET chat_banned = FALSE, chat_ban_expiry = NULL WHERE event_id = $1 AND identity = $2`,
		eventID, identity)
	if err != nil {
		return fmt.Errorf("clear chat ban: %w", err)
	}
	return requireRow(res)
}

// AppendModerationLog appends a structured audit record for an event.
func (p *Postgres) AppendModerationLog(ctx context.Context, eventID string, entry ModerationLogEntry) (retErr error) {
	ctx, end := tracing.StartDBSpan(ctx, "moderation_log", tracing.DBOperationInsert)
	defer func() { end(retErr) }()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO moderation_log (id, event_id, actor, target, action, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), eventID, entry.Actor, entry.Target, entry.Action, entry.Reason, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append moderation log: %w", err)
	}
	return nil
}

// requireRow converts a zero-row update into ErrParticipantNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrParticipantNotFound
	}
	return nil
}
