package live

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Broadcaster manages WebSocket connections and fans events out to named
// groups. Groups are created on first subscribe and vanish when their last
// connection leaves.
type Broadcaster struct {
	mu     sync.RWMutex
	groups map[string]map[*websocket.Conn]bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		groups: make(map[string]map[*websocket.Conn]bool),
	}
}

// Subscribe registers a connection in a group.
func (b *Broadcaster) Subscribe(group string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.groups[group] == nil {
		b.groups[group] = make(map[*websocket.Conn]bool)
	}
	b.groups[group][conn] = true
}

// Leave removes a connection from a single group.
func (b *Broadcaster) Leave(group string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conns, ok := b.groups[group]
	if !ok {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(b.groups, group)
	}
}

// Unsubscribe removes a connection from every group.
func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for group, conns := range b.groups {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(b.groups, group)
		}
	}
}

// Broadcast sends an event to every connection in a group.
func (b *Broadcaster) Broadcast(group string, event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns, exists := b.groups[group]
	if !exists || len(conns) == 0 {
		return
	}

	// Serialize once per broadcast, not per connection.
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal broadcast event", "error", err, "group", group)
		return
	}

	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("failed to send message to websocket client",
				"error", err,
				"group", group,
			)
			// Connection will be cleaned up when the client disconnects.
		}
	}
}

// ConnectionCount returns the number of connections in a group.
func (b *Broadcaster) ConnectionCount(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.groups[group])
}
