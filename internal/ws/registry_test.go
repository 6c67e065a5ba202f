package ws

import (
	"errors"
	"testing"
	"time"
)

func boundConnection(sessionID, userID string) *Connection {
	conn := NewConnection(nil, 1, time.Second)
	conn.Bind(sessionID, userID, "actor", "")
	return conn
}

func TestRegistryRegisterRequiresBinding(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); !errors.Is(err, ErrNilConnection) {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	unbound := NewConnection(nil, 1, time.Second)
	if err := registry.Register(unbound); !errors.Is(err, ErrConnectionNotBound) {
		t.Errorf("Expected ErrConnectionNotBound, got %v", err)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	conn := boundConnection("sess1", "actor1")

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := registry.Get("sess1", "actor1")
	if !ok || got != conn {
		t.Error("Get should return the registered connection")
	}
	if _, ok := registry.Get("sess1", "other"); ok {
		t.Error("Get should miss for unknown users")
	}
	if _, ok := registry.Get("other", "actor1"); ok {
		t.Error("Get should miss for unknown sessions")
	}
}

func TestRegistrySupersedesPreviousConnection(t *testing.T) {
	registry := NewRegistry()
	first := boundConnection("sess1", "actor1")
	second := boundConnection("sess1", "actor1")

	registry.Register(first)
	if err := registry.Register(second); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, _ := registry.Get("sess1", "actor1")
	if got != second {
		t.Error("Newest connection should win the slot")
	}

	// The superseded connection is closed asynchronously.
	select {
	case <-first.ctx.Done():
	case <-time.After(time.Second):
		t.Error("Superseded connection should be closed")
	}
	if err := first.WriteJSON("x"); !errors.Is(err, ErrConnectionClosed) {
		t.Error("Closed connection must reject writes")
	}
}

func TestRegistryUnregister(t *testing.T) {
	registry := NewRegistry()
	conn := boundConnection("sess1", "actor1")
	registry.Register(conn)

	registry.Unregister(conn)
	if _, ok := registry.Get("sess1", "actor1"); ok {
		t.Error("Unregister should remove the connection")
	}

	// Idempotent, including for nil.
	registry.Unregister(conn)
	registry.Unregister(nil)
}

func TestRegistryUnregisterDoesNotRemoveReplacement(t *testing.T) {
	registry := NewRegistry()
	first := boundConnection("sess1", "actor1")
	second := boundConnection("sess1", "actor1")
	registry.Register(first)
	registry.Register(second)

	// The read loop of the superseded socket unregisters on exit; the live
	// replacement must survive that.
	registry.Unregister(first)

	got, ok := registry.Get("sess1", "actor1")
	if !ok || got != second {
		t.Error("Stale unregister must not remove the replacement connection")
	}
}

func TestRegistrySessionConnectionsAndStats(t *testing.T) {
	registry := NewRegistry()
	registry.Register(boundConnection("sess1", "actor1"))
	registry.Register(boundConnection("sess1", "candidate1"))
	registry.Register(boundConnection("sess2", "actor2"))

	if conns := registry.SessionConnections("sess1"); len(conns) != 2 {
		t.Errorf("Expected 2 connections in sess1, got %d", len(conns))
	}
	if conns := registry.SessionConnections("missing"); conns != nil {
		t.Errorf("Expected nil for unknown session, got %v", conns)
	}

	stats := registry.Stats()
	if stats["total_connections"] != 3 {
		t.Errorf("Expected 3 total connections, got %d", stats["total_connections"])
	}
	if stats["active_sessions"] != 2 {
		t.Errorf("Expected 2 active sessions, got %d", stats["active_sessions"])
	}
}
