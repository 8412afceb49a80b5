package internal

import "testing"

func newTestRooms(t *testing.T) (*Rooms, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return NewRooms(reg, DefaultRooms()), reg
}

func memberCount(t *testing.T, rooms *Rooms, roomID string) int {
	t.Helper()
	for _, info := range rooms.List() {
		if info.ID == roomID {
			return info.MembersCount
		}
	}
	t.Fatalf("room %s not listed", roomID)
	return 0
}

func TestJoinUnknownRoom(t *testing.T) {
	rooms, reg := newTestRooms(t)
	c := pipeConn(t, reg)
	if _, _, ok := rooms.Join(c, "alice", "nowhere"); ok {
		t.Fatal("joining an unknown room must fail")
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	rooms, reg := newTestRooms(t)
	c := pipeConn(t, reg)

	name, members, ok := rooms.Join(c, "alice", "general")
	if !ok {
		t.Fatal("join failed")
	}
	if name != "General" {
		t.Fatalf("unexpected room name %q", name)
	}
	if len(members) != 1 || members[0] != "alice" {
		t.Fatalf("unexpected members: %v", members)
	}

	_, members, ok = rooms.Join(c, "alice", "general")
	if !ok {
		t.Fatal("re-join failed")
	}
	if len(members) != 1 {
		t.Fatalf("re-join grew the member set: %v", members)
	}
	if memberCount(t, rooms, "general") != 1 {
		t.Fatal("member count increased on re-join")
	}
}

func TestJoinSwitchesRooms(t *testing.T) {
	rooms, reg := newTestRooms(t)
	c := pipeConn(t, reg)

	rooms.Join(c, "alice", "general")
	rooms.Join(c, "alice", "tech")

	if memberCount(t, rooms, "general") != 0 {
		t.Fatal("alice still counted in the old room")
	}
	if memberCount(t, rooms, "tech") != 1 {
		t.Fatal("alice missing from the new room")
	}
	state, _ := reg.Get(c)
	if state.Room != "tech" {
		t.Fatalf("connection metadata not updated: %q", state.Room)
	}
}

func TestJoinPreservesOrder(t *testing.T) {
	rooms, reg := newTestRooms(t)
	a := pipeConn(t, reg)
	b := pipeConn(t, reg)
	c := pipeConn(t, reg)

	rooms.Join(a, "alice", "random")
	rooms.Join(b, "bob", "random")
	rooms.Join(c, "carol", "random")

	members, ok := rooms.Members("random")
	if !ok {
		t.Fatal("room missing")
	}
	want := []string{"alice", "bob", "carol"}
	for i, name := range want {
		if members[i] != name {
			t.Fatalf("join order not preserved: %v", members)
		}
	}
}

func TestLeaveClearsMembership(t *testing.T) {
	rooms, reg := newTestRooms(t)
	c := pipeConn(t, reg)

	rooms.Join(c, "alice", "general")
	if roomID := rooms.Leave(c, "alice"); roomID != "general" {
		t.Fatalf("expected to leave general, got %q", roomID)
	}
	if memberCount(t, rooms, "general") != 0 {
		t.Fatal("member not removed")
	}
	state, _ := reg.Get(c)
	if state.Room != "" {
		t.Fatal("connection still bound to a room")
	}
	// Leave on a connection in no room is a no-op.
	if roomID := rooms.Leave(c, "alice"); roomID != "" {
		t.Fatalf("second leave returned %q", roomID)
	}
}
