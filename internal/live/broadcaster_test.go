package live

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestBroadcaster_GroupBookkeeping(t *testing.T) {
	b := NewBroadcaster()
	connA := &websocket.Conn{}
	connB := &websocket.Conn{}

	b.Subscribe(RoomGroup("main-hall"), connA)
	b.Subscribe(RoomGroup("main-hall"), connB)
	b.Subscribe(EventGroup("ev-1"), connA)

	if got := b.ConnectionCount(RoomGroup("main-hall")); got != 2 {
		t.Errorf("main-hall connections = %d, want 2", got)
	}
	if got := b.ConnectionCount(EventGroup("ev-1")); got != 1 {
		t.Errorf("event group connections = %d, want 1", got)
	}

	// Re-subscribing the same connection is idempotent.
	b.Subscribe(RoomGroup("main-hall"), connA)
	if got := b.ConnectionCount(RoomGroup("main-hall")); got != 2 {
		t.Errorf("after repeat subscribe = %d, want 2", got)
	}

	b.Leave(RoomGroup("main-hall"), connA)
	if got := b.ConnectionCount(RoomGroup("main-hall")); got != 1 {
		t.Errorf("after leave = %d, want 1", got)
	}

	// Leaving a group the connection never joined is harmless.
	b.Leave(RoomGroup("green-room"), connA)

	b.Unsubscribe(connB)
	if got := b.ConnectionCount(RoomGroup("main-hall")); got != 0 {
		t.Errorf("after unsubscribe = %d, want 0", got)
	}
	if got := b.ConnectionCount(EventGroup("ev-1")); got != 1 {
		t.Errorf("unsubscribe of connB must not touch connA, got %d", got)
	}
}

func TestBroadcaster_BroadcastToEmptyGroupIsNoOp(t *testing.T) {
	b := NewBroadcaster()
	// Must not panic or allocate a group.
	b.Broadcast(RoomGroup("nobody-here"), OccupancyEvent{Type: EventOccupancy})
	if got := b.ConnectionCount(RoomGroup("nobody-here")); got != 0 {
		t.Errorf("broadcast created a group with %d connections", got)
	}
}
