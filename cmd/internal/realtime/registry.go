package realtime

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateConnection is returned when a connection id is registered twice.
var ErrDuplicateConnection = errors.New("realtime: duplicate connection")

// TransitionKind classifies the presence effect of a registry mutation.
type TransitionKind uint8

const (
	// NoTransition means the user's presence did not change.
	NoTransition TransitionKind = iota
	// WentOnline means the mutation took the user's live set from zero to one.
	WentOnline
	// WentOffline means the mutation drained the user's live set to zero.
	WentOffline
)

func (k TransitionKind) String() string {
	switch k {
	case WentOnline:
		return "went_online"
	case WentOffline:
		return "went_offline"
	default:
		return "no_transition"
	}
}

// PresenceTransition is the marker emitted by registry mutations. Only the
// zero-to-one and one-to-zero edges are observable presence events.
type PresenceTransition struct {
	Kind     TransitionKind
	UserID   string
	Username string
	At       time.Time
}

// Registry owns all live connections and derives per-user presence from them.
//
// Concurrency model: a single RWMutex linearizes all mutations, which is the
// "single serialization point" the core assumes. Reads return snapshots so
// callers never hold references into the internal maps.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	byID   map[string]*Client            // conn id -> client
	byUser map[string]map[string]*Client // user id -> (conn id -> client)
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:    log,
		byID:   make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

// Register adds c to its user's live set, creating the per-user entry lazily.
// Registering an already-known connection id fails with ErrDuplicateConnection
// and never duplicates the handle in the set.
//
// The returned transition is WentOnline iff this was the user's first live
// connection; a second device connecting yields NoTransition.
func (r *Registry) Register(c *Client) (PresenceTransition, error) {
	if c == nil || c.ID == "" || c.UserID == "" {
		return PresenceTransition{}, errors.New("realtime: invalid client")
	}

	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID]; exists {
		return PresenceTransition{Kind: NoTransition, UserID: c.UserID, Username: c.Username, At: now}, ErrDuplicateConnection
	}

	conns := r.byUser[c.UserID]
	first := len(conns) == 0
	if conns == nil {
		conns = make(map[string]*Client)
		r.byUser[c.UserID] = conns
	}

	r.byID[c.ID] = c
	conns[c.ID] = c

	metricLiveConnections.Set(float64(len(r.byID)))
	metricOnlineUsers.Set(float64(r.onlineCountLocked()))

	tr := PresenceTransition{Kind: NoTransition, UserID: c.UserID, Username: c.Username, At: now}
	if first {
		tr.Kind = WentOnline
	}

	r.log.Debug("registry.register",
		"conn_id", c.ID,
		"user_id", c.UserID,
		"transition", tr.Kind.String(),
	)
	return tr, nil
}

// Deregister removes the connection and reports WentOffline iff the removal
// drained the owning user's live set to zero.
//
// Deregistering an unknown connection id is a logged no-op, never fatal:
// it happens legitimately when a connection is torn down twice (read error
// racing heartbeat failure).
func (r *Registry) Deregister(connID string) PresenceTransition {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[connID]
	if !ok {
		r.log.Debug("registry.deregister.unknown", "conn_id", connID)
		return PresenceTransition{Kind: NoTransition, At: now}
	}

	delete(r.byID, connID)

	conns := r.byUser[c.UserID]
	delete(conns, connID)
	drained := len(conns) == 0
	if drained {
		delete(r.byUser, c.UserID)
	}

	metricLiveConnections.Set(float64(len(r.byID)))
	metricOnlineUsers.Set(float64(r.onlineCountLocked()))

	tr := PresenceTransition{Kind: NoTransition, UserID: c.UserID, Username: c.Username, At: now}
	if drained {
		tr.Kind = WentOffline
	}

	r.log.Debug("registry.deregister",
		"conn_id", connID,
		"user_id", c.UserID,
		"transition", tr.Kind.String(),
	)
	return tr
}

// LiveConnections returns a snapshot of the user's live connections.
// An empty slice means offline; it is not an error.
func (r *Registry) LiveConnections(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns a snapshot of all user ids with a non-empty live set.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byUser))
	for uid := range r.byUser {
		out = append(out, uid)
	}
	return out
}

// CountConnections returns the total number of live connections.
func (r *Registry) CountConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountOnlineUsers returns the number of users with a non-empty live set.
func (r *Registry) CountOnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineCountLocked()
}

func (r *Registry) onlineCountLocked() int {
	return len(r.byUser)
}
