package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestClient(connID, userID, username string) *Client {
	return NewClient(connID, userID, username, 8)
}

func TestRegistry_FirstConnectionWentOnline(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	tr, err := r.Register(newTestClient("c1", "alice", "Alice"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if tr.Kind != WentOnline {
		t.Fatalf("expected WentOnline, got %s", tr.Kind)
	}
	if tr.UserID != "alice" || tr.Username != "Alice" {
		t.Fatalf("unexpected transition identity: %+v", tr)
	}
	if !r.IsOnline("alice") {
		t.Fatal("expected alice online")
	}
}

func TestRegistry_SecondDeviceNoTransition(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	if _, err := r.Register(newTestClient("c1", "alice", "Alice")); err != nil {
		t.Fatalf("register c1: %v", err)
	}
	tr, err := r.Register(newTestClient("c2", "alice", "Alice"))
	if err != nil {
		t.Fatalf("register c2: %v", err)
	}
	if tr.Kind != NoTransition {
		t.Fatalf("expected NoTransition for second device, got %s", tr.Kind)
	}
	if got := len(r.LiveConnections("alice")); got != 2 {
		t.Fatalf("expected 2 live connections, got %d", got)
	}
}

func TestRegistry_DeregisterLastConnectionWentOffline(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	if _, err := r.Register(newTestClient("c1", "alice", "Alice")); err != nil {
		t.Fatalf("register c1: %v", err)
	}
	if _, err := r.Register(newTestClient("c2", "alice", "Alice")); err != nil {
		t.Fatalf("register c2: %v", err)
	}

	if tr := r.Deregister("c1"); tr.Kind != NoTransition {
		t.Fatalf("expected NoTransition while a device remains, got %s", tr.Kind)
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice must stay online with one device left")
	}

	tr := r.Deregister("c2")
	if tr.Kind != WentOffline {
		t.Fatalf("expected WentOffline on last device, got %s", tr.Kind)
	}
	if r.IsOnline("alice") {
		t.Fatal("alice must be offline after last device left")
	}
	if got := r.CountConnections(); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
}

func TestRegistry_DuplicateConnIDRejected(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	if _, err := r.Register(newTestClient("c1", "alice", "Alice")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(newTestClient("c1", "alice", "Alice")); !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
	if got := r.CountConnections(); got != 1 {
		t.Fatalf("duplicate register must not add a handle, got %d connections", got)
	}
}

func TestRegistry_DeregisterUnknownIsNoOp(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	tr := r.Deregister("never-registered")
	if tr.Kind != NoTransition {
		t.Fatalf("expected NoTransition, got %s", tr.Kind)
	}
}

func TestRegistry_OnlineUsersSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	for _, u := range []string{"alice", "bob", "carol"} {
		if _, err := r.Register(newTestClient("conn-"+u, u, u)); err != nil {
			t.Fatalf("register %s: %v", u, err)
		}
	}

	users := r.OnlineUsers()
	if len(users) != 3 {
		t.Fatalf("expected 3 online users, got %d", len(users))
	}
	if got := r.CountOnlineUsers(); got != 3 {
		t.Fatalf("expected CountOnlineUsers=3, got %d", got)
	}
}

func TestRegistry_ConcurrentConnectDisconnect(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)

	const (
		users      = 8
		perUser    = 16
		iterations = users * perUser
	)

	var wg sync.WaitGroup
	wg.Add(iterations)
	for u := 0; u < users; u++ {
		for i := 0; i < perUser; i++ {
			go func(u, i int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", u)
				connID := fmt.Sprintf("conn-%d-%d", u, i)
				if _, err := r.Register(NewClient(connID, userID, userID, 8)); err != nil {
					t.Errorf("register %s: %v", connID, err)
					return
				}
				r.Deregister(connID)
			}(u, i)
		}
	}
	wg.Wait()

	if got := r.CountConnections(); got != 0 {
		t.Fatalf("expected empty registry, got %d connections", got)
	}
	if got := r.CountOnlineUsers(); got != 0 {
		t.Fatalf("expected 0 online users, got %d", got)
	}
}
