package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onstagehq/onstage/internal/access"
	"github.com/onstagehq/onstage/internal/auth"
	"github.com/onstagehq/onstage/internal/directory"
	"github.com/onstagehq/onstage/internal/presence"
	"github.com/onstagehq/onstage/internal/store"
	"github.com/onstagehq/onstage/internal/typing"
)

// RoomHandlers serves read-only presence hydration over plain HTTP, for
// clients that need counts before (or without) opening a socket.
//
//	GET /rooms/{id}/occupancy
//	GET /rooms/{id}/typists
//	GET /events/{id}/occupancy
type RoomHandlers struct {
	rooms  presence.Tracker
	typing typing.Tracker
	dir    directory.Directory
	tokens *auth.JWTService
}

func NewRoomHandlers(rooms presence.Tracker, typingTracker typing.Tracker, dir directory.Directory, tokens *auth.JWTService) *RoomHandlers {
	return &RoomHandlers{
		rooms:  rooms,
		typing: typingTracker,
		dir:    dir,
		tokens: tokens,
	}
}

// identity authenticates the request from its Bearer token.
func (h *RoomHandlers) identity(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", auth.ErrInvalidToken
	}
	return h.tokens.VerifyAccessToken(raw)
}

// OccupancyResponse is the body of the room occupancy endpoint.
type OccupancyResponse struct {
	RoomID string `json:"room_id"`
	Count  int64  `json:"count"`
}

// TypistsResponse is the body of the room typists endpoint.
type TypistsResponse struct {
	RoomID  string       `json:"room_id"`
	Typists []TypistInfo `json:"typists"`
}

// TypistInfo is one active typist, oldest first.
type TypistInfo struct {
	Identity   string  `json:"identity"`
	AgeSeconds float64 `json:"age_seconds"`
}

// EventOccupancyResponse is the body of the event occupancy endpoint.
type EventOccupancyResponse struct {
	EventID string           `json:"event_id"`
	Rooms   map[string]int64 `json:"rooms"`
}

// RoomOccupancy handles GET /rooms/{id}/occupancy. Requires a valid access
// token and read access to the room. Degrades to zero when the store is
// unavailable.
func (h *RoomHandlers) RoomOccupancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := r.PathValue("id")

	identity, err := h.identity(r)
	if err != nil {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or missing token")
		return
	}
	if !h.authorizeRead(w, r, identity, roomID) {
		return
	}

	count, err := h.rooms.OccupancyCount(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.ErrorContext(ctx, "occupancy lookup failed", "room_id", roomID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	writeJSON(w, ctx, OccupancyResponse{RoomID: roomID, Count: count})
}

// RoomTypists handles GET /rooms/{id}/typists. Same access rule as
// occupancy; degrades to an empty list.
func (h *RoomHandlers) RoomTypists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := r.PathValue("id")

	identity, err := h.identity(r)
	if err != nil {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or missing token")
		return
	}
	if !h.authorizeRead(w, r, identity, roomID) {
		return
	}

	typists, err := h.typing.ActiveTypists(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrUnavailable) {
		slog.ErrorContext(ctx, "typists lookup failed", "room_id", roomID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	resp := TypistsResponse{RoomID: roomID, Typists: make([]TypistInfo, 0, len(typists))}
	for _, t := range typists {
		resp.Typists = append(resp.Typists, TypistInfo{
			Identity:   t.Identity,
			AgeSeconds: t.Age.Seconds(),
		})
	}
	writeJSON(w, ctx, resp)
}

// EventOccupancy handles GET /events/{id}/occupancy, the HTTP form of the
// admin monitor: occupancy for every room of the event, moderator roles and
// up only.
func (h *RoomHandlers) EventOccupancy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID := r.PathValue("id")

	identity, err := h.identity(r)
	if err != nil {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid or missing token")
		return
	}

	banned, err := h.dir.IsEventBanned(ctx, identity, eventID)
	if err != nil {
		slog.ErrorContext(ctx, "ban lookup failed", "event_id", eventID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	if banned {
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, access.ReasonEventBanned)
		return
	}

	role, err := h.dir.EventRoleOf(ctx, identity, eventID)
	if err != nil {
		slog.ErrorContext(ctx, "role lookup failed", "event_id", eventID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	switch role {
	case access.RoleAdministrator, access.RoleOrganizer, access.RoleModerator:
	default:
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, access.ReasonRoleRequired)
		return
	}

	rooms, err := h.dir.RoomsOfEvent(ctx, eventID)
	if err != nil {
		slog.ErrorContext(ctx, "rooms lookup failed", "event_id", eventID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	resp := EventOccupancyResponse{EventID: eventID, Rooms: make(map[string]int64, len(rooms))}
	for _, room := range rooms {
		count, err := h.rooms.OccupancyCount(ctx, room.ID)
		if err != nil {
			if !errors.Is(err, store.ErrUnavailable) {
				slog.ErrorContext(ctx, "occupancy lookup failed", "room_id", room.ID, "error", err)
				WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
				return
			}
			count = 0
		}
		resp.Rooms[room.ID] = count
	}
	writeJSON(w, ctx, resp)
}

// authorizeRead runs the read access check and writes the error response on
// denial. Returns true when the request may proceed.
func (h *RoomHandlers) authorizeRead(w http.ResponseWriter, r *http.Request, identity, roomID string) bool {
	ctx := r.Context()

	room, err := h.dir.RoomDescriptor(ctx, roomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Room not found")
		} else {
			slog.ErrorContext(ctx, "room lookup failed", "room_id", roomID, "error", err)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		}
		return false
	}

	role, err := h.dir.EventRoleOf(ctx, identity, room.EventID)
	if err != nil {
		slog.ErrorContext(ctx, "role lookup failed", "room_id", roomID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return false
	}
	banned, err := h.dir.IsEventBanned(ctx, identity, room.EventID)
	if err != nil && !errors.Is(err, directory.ErrParticipantNotFound) {
		slog.ErrorContext(ctx, "ban lookup failed", "room_id", roomID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return false
	}

	actx := access.Context{Identity: identity, Role: role, EventBanned: banned}
	if room.ProgramSegmentID != "" {
		speaker, err := h.dir.IsSpeakerOf(ctx, identity, room.ProgramSegmentID)
		if err != nil {
			slog.ErrorContext(ctx, "speaker lookup failed", "room_id", roomID, "error", err)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
			return false
		}
		actx.SegmentSpeaker = speaker
	}

	decision := access.CanAccess(access.ActionRead, access.Room{
		ID:               room.ID,
		Category:         room.Category,
		EventID:          room.EventID,
		ProgramSegmentID: room.ProgramSegmentID,
		Enabled:          room.Enabled,
	}, actx)
	if !decision.Allowed {
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, decision.Reason)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, ctx context.Context, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
