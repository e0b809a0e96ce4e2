package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

func mustEnvelope(t *testing.T, typ string) v1.Envelope {
	t.Helper()
	env, err := NewServerEnvelope(typ, json.RawMessage(`{}`), time.Now().UTC())
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	return env
}

func drain(c *Client) []v1.Envelope {
	var out []v1.Envelope
	for {
		select {
		case env := <-c.Send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestRouter_DirectDeliversToAllDevices(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	c1 := newTestClient("c1", "alice", "Alice")
	c2 := newTestClient("c2", "alice", "Alice")
	for _, c := range []*Client{c1, c2} {
		if _, err := r.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.ID, err)
		}
	}

	rep, err := router.Route(Outbound{Env: mustEnvelope(t, v1.TypeMessageNew)}, DirectTarget("alice"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if rep.Delivered != 2 || rep.Dropped != 0 {
		t.Fatalf("expected 2 delivered / 0 dropped, got %+v", rep)
	}
	if got := len(drain(c1)); got != 1 {
		t.Fatalf("c1 expected 1 envelope, got %d", got)
	}
	if got := len(drain(c2)); got != 1 {
		t.Fatalf("c2 expected 1 envelope, got %d", got)
	}
}

func TestRouter_OfflineRecipientIsNotAnError(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	rep, err := router.Route(Outbound{Env: mustEnvelope(t, v1.TypeMessageNew)}, DirectTarget("ghost"))
	if err != nil {
		t.Fatalf("offline recipient must not error: %v", err)
	}
	if rep.Recipients != 1 || rep.Delivered != 0 || rep.Dropped != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRouter_GroupExcludesOriginConnOnly(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	// Alice has two devices; a1 is the origin. Bob has one.
	// Carol is live but not a group member.
	a1 := newTestClient("a1", "alice", "Alice")
	a2 := newTestClient("a2", "alice", "Alice")
	b1 := newTestClient("b1", "bob", "Bob")
	c1 := newTestClient("c1", "carol", "Carol")
	for _, c := range []*Client{a1, a2, b1, c1} {
		if _, err := r.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.ID, err)
		}
	}

	rep, err := router.Route(
		Outbound{Env: mustEnvelope(t, v1.TypeGroupMessageNew), ExcludeConnID: "a1"},
		GroupTarget("g1", []string{"alice", "bob"}),
	)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if rep.Delivered != 2 {
		t.Fatalf("expected 2 delivered (a2 + b1), got %+v", rep)
	}
	if got := len(drain(a1)); got != 0 {
		t.Fatalf("origin device must not receive its own send, got %d", got)
	}
	if got := len(drain(a2)); got != 1 {
		t.Fatalf("sender's other device expected the push, got %d", got)
	}
	if got := len(drain(b1)); got != 1 {
		t.Fatalf("b1 expected the push, got %d", got)
	}
	if got := len(drain(c1)); got != 0 {
		t.Fatalf("live non-member must not receive group pushes, got %d", got)
	}
}

func TestRouter_GroupDeduplicatesMembers(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	b1 := newTestClient("b1", "bob", "Bob")
	if _, err := r.Register(b1); err != nil {
		t.Fatalf("register: %v", err)
	}

	rep, err := router.Route(
		Outbound{Env: mustEnvelope(t, v1.TypeGroupMessageNew)},
		GroupTarget("g1", []string{"bob", "bob", "bob"}),
	)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if rep.Delivered != 1 {
		t.Fatalf("expected exactly 1 delivery despite repeated member ids, got %+v", rep)
	}
}

func TestRouter_BackpressureDropsNeverBlock(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	// Queue of 8 from newTestClient; no reader draining it.
	slow := newTestClient("slow", "bob", "Bob")
	if _, err := r.Register(slow); err != nil {
		t.Fatalf("register: %v", err)
	}

	const sends = 20
	var delivered, dropped int

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sends; i++ {
			rep, err := router.Route(Outbound{Env: mustEnvelope(t, v1.TypeMessageNew)}, DirectTarget("bob"))
			if err != nil {
				t.Errorf("route %d: %v", i, err)
				return
			}
			delivered += rep.Delivered
			dropped += rep.Dropped
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("router blocked on a full send queue")
	}

	if delivered+dropped != sends {
		t.Fatalf("delivered(%d)+dropped(%d) != %d", delivered, dropped, sends)
	}
	if dropped == 0 {
		t.Fatal("expected drops once the queue filled")
	}
}

func TestRouter_PerConnectionOrderPreserved(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	c := NewClient("c1", "bob", "Bob", 64)
	if _, err := r.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	const n = 32
	sent := make([]string, 0, n)
	for i := 0; i < n; i++ {
		env, err := NewServerEnvelope(v1.TypeMessageNew, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), time.Now().UTC())
		if err != nil {
			t.Fatalf("envelope %d: %v", i, err)
		}
		sent = append(sent, env.ID)
		if _, err := router.Route(Outbound{Env: env}, DirectTarget("bob")); err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
	}

	got := drain(c)
	if len(got) != n {
		t.Fatalf("expected %d envelopes, got %d", n, len(got))
	}
	for i, env := range got {
		if env.ID != sent[i] {
			t.Fatalf("order violated at %d: got %s want %s", i, env.ID, sent[i])
		}
	}
}

func TestRouter_InvalidTargets(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)
	env := mustEnvelope(t, v1.TypeMessageNew)

	cases := []struct {
		name   string
		target Target
	}{
		{"zero value", Target{}},
		{"empty direct", DirectTarget("")},
		{"empty group id", GroupTarget("", []string{"bob"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := router.Route(Outbound{Env: env}, tc.target); !errors.Is(err, ErrInvalidTarget) {
				t.Fatalf("expected ErrInvalidTarget, got %v", err)
			}
		})
	}
}

func TestRouter_ClosedClientCountsAsDrop(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	router := NewRouter(nil, r)

	c := newTestClient("c1", "bob", "Bob")
	if _, err := r.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	c.Close()

	rep, err := router.Route(Outbound{Env: mustEnvelope(t, v1.TypeMessageNew)}, DirectTarget("bob"))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if rep.Delivered != 0 || rep.Dropped != 1 {
		t.Fatalf("expected closed client to drop, got %+v", rep)
	}
}
