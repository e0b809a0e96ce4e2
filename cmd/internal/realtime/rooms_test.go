package realtime

import (
	"testing"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

func TestRoomSet_SignalExcludesOrigin(t *testing.T) {
	t.Parallel()

	rs := NewRoomSet(nil)

	a1 := newTestClient("a1", "alice", "Alice")
	b1 := newTestClient("b1", "bob", "Bob")
	rs.Join(a1, "room-1")
	rs.Join(b1, "room-1")

	env := mustEnvelope(t, v1.TypeTyping)
	if n := rs.Signal("room-1", env, "a1"); n != 1 {
		t.Fatalf("expected 1 signal delivery, got %d", n)
	}
	if got := len(drain(a1)); got != 0 {
		t.Fatalf("origin must not receive its own signal, got %d", got)
	}
	if got := len(drain(b1)); got != 1 {
		t.Fatalf("b1 expected the signal, got %d", got)
	}
}

func TestRoomSet_SignalScopedToRoom(t *testing.T) {
	t.Parallel()

	rs := NewRoomSet(nil)

	a1 := newTestClient("a1", "alice", "Alice")
	c1 := newTestClient("c1", "carol", "Carol")
	rs.Join(a1, "room-1")
	rs.Join(c1, "room-2")

	env := mustEnvelope(t, v1.TypeTyping)
	if n := rs.Signal("room-1", env, ""); n != 1 {
		t.Fatalf("expected 1 delivery in room-1, got %d", n)
	}
	if got := len(drain(a1)); got != 1 {
		t.Fatalf("a1 expected the signal, got %d", got)
	}
	if got := len(drain(c1)); got != 0 {
		t.Fatalf("connection joined only to another room must not receive the signal, got %d", got)
	}
}

func TestRoomSet_SignalEmptyRoomIsNoOp(t *testing.T) {
	t.Parallel()

	rs := NewRoomSet(nil)

	env := mustEnvelope(t, v1.TypeTyping)
	if n := rs.Signal("nobody-here", env, ""); n != 0 {
		t.Fatalf("empty room must deliver nothing, got %d", n)
	}
}

func TestRoomSet_JoinTwiceIsNoOp(t *testing.T) {
	t.Parallel()

	rs := NewRoomSet(nil)

	a1 := newTestClient("a1", "alice", "Alice")
	rs.Join(a1, "room-1")
	rs.Join(a1, "room-1")

	env := mustEnvelope(t, v1.TypeTyping)
	if n := rs.Signal("room-1", env, ""); n != 1 {
		t.Fatalf("double join must not duplicate delivery, got %d", n)
	}
}

func TestRoomSet_LeaveRemovesMembership(t *testing.T) {
	t.Parallel()

	rs := NewRoomSet(nil)

	a1 := newTestClient("a1", "alice", "Alice")
	rs.Join(a1, "room-1")
	rs.Leave("a1", "room-1")

	env := mustEnvelope(t, v1.TypeTyping)
	if n := rs.Signal("room-1", env, ""); n != 0 {
		t.Fatalf("left connection must not receive signals, got %d", n)
	}
	if got := rs.Rooms("a1"); got != nil {
		t.Fatalf("expected no rooms, got %v", got)
	}

	// Leaving again, or leaving a room never joined, is a no-op.
	rs.Leave("a1", "room-1")
	rs.Leave("a1", "never-joined")
}

func TestRoomSet_LeaveAllOnTeardown(t *testing.T) {
	t.Parallel()

	rs := NewRoomSet(nil)

	a1 := newTestClient("a1", "alice", "Alice")
	b1 := newTestClient("b1", "bob", "Bob")
	for _, room := range []string{"room-1", "room-2", "room-3"} {
		rs.Join(a1, room)
		rs.Join(b1, room)
	}

	rs.LeaveAll("a1")

	if got := rs.Rooms("a1"); got != nil {
		t.Fatalf("expected no rooms after LeaveAll, got %v", got)
	}

	env := mustEnvelope(t, v1.TypeTyping)
	for _, room := range []string{"room-1", "room-2", "room-3"} {
		if n := rs.Signal(room, env, ""); n != 1 {
			t.Fatalf("room %s: expected only b1 left, got %d deliveries", room, n)
		}
	}
}
