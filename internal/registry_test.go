package internal

import (
	"net"
	"testing"
)

// pipeConn returns a registered test connection whose peer side is drained
// so writes never block.
func pipeConn(t *testing.T, reg *Registry) *Conn {
	t.Helper()
	server, client := net.Pipe()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := client.Read(buf); err != nil {
				return
			}
		}
	}()
	c := newConn(server)
	if reg != nil {
		reg.Register(c)
	}
	t.Cleanup(func() {
		c.Close()
		_ = client.Close()
	})
	return c
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	c := pipeConn(t, reg)

	state, ok := reg.Get(c)
	if !ok {
		t.Fatal("expected connection to be registered")
	}
	if state.RemoteAddr == "" {
		t.Fatal("expected a remote addr")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected 1 connection, got %d", reg.Len())
	}

	reg.Update(c, func(st *ConnState) {
		st.Username = "alice"
		st.Room = "general"
	})
	state, _ = reg.Get(c)
	if state.Username != "alice" || state.Room != "general" {
		t.Fatalf("update not applied: %+v", state)
	}

	final := reg.Unregister(c)
	if final == nil || final.Username != "alice" {
		t.Fatalf("unexpected final state: %+v", final)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	if reg.Unregister(c) != nil {
		t.Fatal("double unregister should return nil")
	}
}

func TestRegistryFindByUsername(t *testing.T) {
	reg := NewRegistry()
	a := pipeConn(t, reg)
	b := pipeConn(t, reg)
	reg.Update(a, func(st *ConnState) { st.Username = "alice" })
	reg.Update(b, func(st *ConnState) { st.Username = "alice" })

	// The excluded connection must never be returned, even when it matches.
	found, _, ok := reg.FindByUsername("alice", a)
	if !ok || found != b {
		t.Fatal("expected the other alice connection")
	}
	if _, _, ok := reg.FindByUsername("bob", nil); ok {
		t.Fatal("bob is not connected")
	}
}

func TestRegistrySnapshotAndRooms(t *testing.T) {
	reg := NewRegistry()
	a := pipeConn(t, reg)
	b := pipeConn(t, reg)
	pipeConn(t, reg)
	reg.Update(a, func(st *ConnState) { st.Room = "tech" })
	reg.Update(b, func(st *ConnState) { st.Room = "tech" })

	if got := len(reg.ConnsInRoom("tech")); got != 2 {
		t.Fatalf("expected 2 connections in tech, got %d", got)
	}
	if got := len(reg.ConnsInRoom("random")); got != 0 {
		t.Fatalf("expected empty room, got %d", got)
	}
	if got := len(reg.Snapshot()); got != 3 {
		t.Fatalf("expected 3 snapshot entries, got %d", got)
	}
}
