package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onstagehq/onstage/internal/directory"
	"github.com/onstagehq/onstage/internal/typing"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins from configuration before exposing this
		// endpoint outside the platform's own frontends.
		return true
	},
}

// Command op names accepted on the wire.
const (
	OpHeartbeat      = "heartbeat"
	OpJoinRoom       = "join_room"
	OpLeaveRoom      = "leave_room"
	OpSendMessage    = "send_message"
	OpAdminMonitor   = "admin_monitor"
	OpWatchSegment   = "watch_segment"
	OpUnwatchSegment = "unwatch_segment"
	OpSetTyping      = "set_typing"
	OpQueryTyping    = "query_typing"
	OpBan            = "ban"
	OpUnban          = "unban"
	OpChatBan        = "chat_ban"
	OpChatUnban      = "chat_unban"
)

// Command is one inbound frame. Fields beyond Op are consulted per op.
type Command struct {
	Op             string `json:"op"`
	RoomID         string `json:"room_id,omitempty"`
	ScopeID        string `json:"scope_id,omitempty"`
	SegmentID      string `json:"segment_id,omitempty"`
	EventID        string `json:"event_id,omitempty"`
	Target         string `json:"target,omitempty"`
	Body           string `json:"body,omitempty"`
	Typing         bool   `json:"typing,omitempty"`
	Reason         string `json:"reason,omitempty"`
	WatchedSeconds int64  `json:"watched_seconds,omitempty"`
	BanSeconds     int64  `json:"ban_seconds,omitempty"`
}

// TypistInfo is the wire form of one active typist.
type TypistInfo struct {
	Identity   string  `json:"identity"`
	AgeSeconds float64 `json:"age_seconds"`
}

// Reply is the response frame for one command. Commands are processed
// strictly in arrival order with at most one in flight per connection, so
// replies need no correlation id.
type Reply struct {
	Op        string           `json:"op"`
	OK        bool             `json:"ok"`
	Error     string           `json:"error,omitempty"`
	Count     int64            `json:"count,omitempty"`
	Occupancy map[string]int64 `json:"occupancy,omitempty"`
	Typists   []TypistInfo     `json:"typists,omitempty"`
}

func typistInfos(typists []typing.Typist) []TypistInfo {
	if len(typists) == 0 {
		return nil
	}
	out := make([]TypistInfo, len(typists))
	for i, t := range typists {
		out[i] = TypistInfo{Identity: t.Identity, AgeSeconds: t.Age.Seconds()}
	}
	return out
}

// Handler serves the live WebSocket endpoint.
// GET /ws?token={accessToken}
type Handler struct {
	gateway *Gateway
	dir     directory.Directory
	logger  *slog.Logger
}

func NewHandler(gateway *Gateway, dir directory.Directory, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gateway: gateway, dir: dir, logger: logger}
}

// token extracts the raw access token from the query string or the
// Authorization header.
func token(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectionID := uuid.NewString()

	// Authenticate before upgrading so a bad token is an HTTP 401 rather
	// than an open-then-closed socket.
	identity, err := h.gateway.OnConnect(ctx, connectionID, token(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.gateway.OnDisconnect(ctx, connectionID)
		h.logger.Error("failed to upgrade websocket connection",
			"error", err,
			"connection_id", connectionID,
		)
		return
	}

	broadcaster := h.gateway.Broadcaster()
	broadcaster.Subscribe(IdentityGroup(identity), conn)
	if eventIDs, err := h.dir.EventIDsOf(ctx, identity); err == nil {
		for _, eventID := range eventIDs {
			broadcaster.Subscribe(EventGroup(eventID), conn)
		}
	} else {
		h.logger.Warn("failed to resolve event subscriptions", "identity", identity, "error", err)
	}

	h.logger.Info("websocket client connected",
		"connection_id", connectionID,
		"identity", identity,
	)

	defer func() {
		broadcaster.Unsubscribe(conn)
		// The request context dies with the request; cleanup gets its own
		// deadline so disconnect housekeeping still runs.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.gateway.OnDisconnect(cleanupCtx, connectionID)
		conn.Close()
		h.logger.Info("websocket client disconnected",
			"connection_id", connectionID,
			"identity", identity,
		)
	}()

	// One command in flight at a time: read, dispatch, reply, repeat.
	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket connection closed unexpectedly",
					"error", err,
					"connection_id", connectionID,
				)
			}
			return
		}

		reply := h.dispatch(ctx, connectionID, conn, cmd)
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, connectionID string, conn *websocket.Conn, cmd Command) Reply {
	reply := Reply{Op: cmd.Op, OK: true}
	broadcaster := h.gateway.Broadcaster()

	var err error
	switch cmd.Op {
	case OpHeartbeat:
		err = h.gateway.OnHeartbeat(ctx, connectionID)

	case OpJoinRoom:
		reply.Count, err = h.gateway.OnJoinRoom(ctx, connectionID, cmd.RoomID)
		if err == nil {
			broadcaster.Subscribe(RoomGroup(cmd.RoomID), conn)
		}

	case OpLeaveRoom:
		reply.Count, err = h.gateway.OnLeaveRoom(ctx, connectionID, cmd.RoomID)
		broadcaster.Leave(RoomGroup(cmd.RoomID), conn)

	case OpSendMessage:
		err = h.gateway.OnSendMessage(ctx, connectionID, cmd.RoomID, cmd.Body)

	case OpAdminMonitor:
		reply.Occupancy, err = h.gateway.OnJoinAdminMonitor(ctx, connectionID, cmd.EventID)
		if err == nil {
			broadcaster.Subscribe(EventGroup(cmd.EventID), conn)
		}

	case OpWatchSegment:
		reply.Count, err = h.gateway.OnWatchSegment(ctx, connectionID, cmd.SegmentID)

	case OpUnwatchSegment:
		watched := time.Duration(cmd.WatchedSeconds) * time.Second
		reply.Count, err = h.gateway.OnUnwatchSegment(ctx, connectionID, cmd.SegmentID, watched)

	case OpSetTyping:
		err = h.gateway.OnSetTyping(ctx, connectionID, cmd.ScopeID, cmd.Typing)

	case OpQueryTyping:
		var typists []typing.Typist
		typists, err = h.gateway.OnQueryTyping(ctx, connectionID, cmd.ScopeID)
		reply.Typists = typistInfos(typists)

	case OpBan:
		err = h.gateway.OnBan(ctx, connectionID, cmd.EventID, cmd.Target, cmd.Reason)

	case OpUnban:
		err = h.gateway.OnUnban(ctx, connectionID, cmd.EventID, cmd.Target, cmd.Reason)

	case OpChatBan:
		duration := time.Duration(cmd.BanSeconds) * time.Second
		err = h.gateway.OnChatBan(ctx, connectionID, cmd.EventID, cmd.Target, duration, cmd.Reason)

	case OpChatUnban:
		err = h.gateway.OnChatUnban(ctx, connectionID, cmd.EventID, cmd.Target, cmd.Reason)

	default:
		err = errors.New("unknown op")
	}

	if err != nil {
		reply.OK = false
		reply.Error = userFacingError(err)
		var d *DeniedError
		if !errors.As(err, &d) && !errors.Is(err, ErrAuthenticationRequired) {
			h.logger.Error("command failed",
				"op", cmd.Op,
				"connection_id", connectionID,
				"error", err,
			)
		}
	}
	return reply
}

// userFacingError maps an error to the string sent to the client. Denials
// carry their human-readable reason; everything else is opaque.
func userFacingError(err error) string {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.Reason
	}
	if errors.Is(err, ErrAuthenticationRequired) {
		return ErrAuthenticationRequired.Error()
	}
	if errors.Is(err, directory.ErrRoomNotFound) {
		return directory.ErrRoomNotFound.Error()
	}
	return "internal error"
}
