package realtime

import (
	"log/slog"
	"sync"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

// RoomSet is the ephemeral signal relay: an in-memory association between
// connections and room ids used for typing indicators and join/leave signals.
//
// Membership is never persisted and dies with the connection; clients re-join
// after reconnect. Rooms here are distinct from persisted group membership,
// which lives behind GroupProvider.
type RoomSet struct {
	log *slog.Logger

	mu     sync.RWMutex
	rooms  map[string]map[string]*Client  // room id -> (conn id -> client)
	byConn map[string]map[string]struct{} // conn id -> set of room ids
}

// NewRoomSet constructs an empty RoomSet.
func NewRoomSet(log *slog.Logger) *RoomSet {
	if log == nil {
		log = slog.Default()
	}
	return &RoomSet{
		log:    log,
		rooms:  make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to roomID. Joining twice is a no-op.
func (rs *RoomSet) Join(c *Client, roomID string) {
	if rs == nil || c == nil || c.ID == "" || roomID == "" {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	room := rs.rooms[roomID]
	if room == nil {
		room = make(map[string]*Client)
		rs.rooms[roomID] = room
	}
	room[c.ID] = c

	joined := rs.byConn[c.ID]
	if joined == nil {
		joined = make(map[string]struct{})
		rs.byConn[c.ID] = joined
	}
	joined[roomID] = struct{}{}

	rs.log.Debug("rooms.join", "room_id", roomID, "conn_id", c.ID, "user_id", c.UserID)
}

// Leave removes the connection from roomID. Leaving a room the connection
// never joined is a no-op.
func (rs *RoomSet) Leave(connID, roomID string) {
	if rs == nil || connID == "" || roomID == "" {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.leaveLocked(connID, roomID)
}

// LeaveAll removes the connection from every room it joined.
// Called as part of connection teardown.
func (rs *RoomSet) LeaveAll(connID string) {
	if rs == nil || connID == "" {
		return
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for roomID := range rs.byConn[connID] {
		rs.leaveLocked(connID, roomID)
	}
}

func (rs *RoomSet) leaveLocked(connID, roomID string) {
	if room := rs.rooms[roomID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(rs.rooms, roomID)
		}
	}
	if joined := rs.byConn[connID]; joined != nil {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(rs.byConn, connID)
		}
	}
}

// Rooms returns a snapshot of the room ids the connection has joined.
func (rs *RoomSet) Rooms(connID string) []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	joined := rs.byConn[connID]
	if len(joined) == 0 {
		return nil
	}
	out := make([]string, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	return out
}

// Signal fans env out to every connection currently joined to roomID,
// optionally excluding the originating connection (so a user never sees
// their own typing echo). Signaling an empty room is a no-op, not an error.
// It returns the number of connections the signal was enqueued to.
func (rs *RoomSet) Signal(roomID string, env v1.Envelope, excludeConnID string) int {
	if rs == nil || roomID == "" {
		return 0
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	n := 0
	for id, c := range rs.rooms[roomID] {
		if id == excludeConnID {
			continue
		}
		if c.TryEnqueue(env) {
			n++
		}
	}
	return n
}
