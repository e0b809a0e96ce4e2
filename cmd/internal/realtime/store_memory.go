package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

const memMaxMessages = 10_000

// ErrMessageNotFound is returned by MarkRead for an unknown message id.
var ErrMessageNotFound = errors.New("realtime: message not found")

// InMemoryStore is a dev-only MessageStore fallback when no DB is configured.
// It supports idempotent appends keyed by (sender_id, client_msg_id) and
// read-marking, bounded to the most recent messages.
type InMemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*StoredMessage
	dedupe map[string]string // sender_id + "\x00" + client_msg_id -> message id
	order  []string          // message ids, append order
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]*StoredMessage),
		dedupe: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append persists a message, minting its server id and timestamp.
func (s *InMemoryStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.SenderID == "" || in.ClientMsgID == "" {
		return AppendResult{}, errors.New("invalid input")
	}
	if (in.ReceiverID == "") == (in.GroupID == "") {
		return AppendResult{}, errors.New("exactly one of receiver_id/group_id required")
	}
	if err := in.Body.Validate(); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dedupeKey := in.SenderID + "\x00" + in.ClientMsgID
	if id, ok := s.dedupe[dedupeKey]; ok {
		if existing := s.byID[id]; existing != nil {
			return AppendResult{Stored: *existing, Duplicated: true}, nil
		}
	}

	id, err := NewMessageID(now)
	if err != nil {
		return AppendResult{}, err
	}

	msg := StoredMessage{
		ID:          id,
		ClientMsgID: in.ClientMsgID,
		SenderID:    in.SenderID,
		SenderName:  in.SenderName,
		ReceiverID:  in.ReceiverID,
		GroupID:     in.GroupID,
		Body:        in.Body,
		ServerTS:    now,
	}
	s.byID[id] = &msg
	s.dedupe[dedupeKey] = id
	s.order = append(s.order, id)

	// Bound memory to avoid unbounded growth in dev.
	if len(s.order) > memMaxMessages {
		drop := s.order[0]
		s.order = s.order[1:]
		if old := s.byID[drop]; old != nil {
			delete(s.dedupe, old.SenderID+"\x00"+old.ClientMsgID)
		}
		delete(s.byID, drop)
	}

	return AppendResult{Stored: msg, Duplicated: false}, nil
}

// GetMessage returns a copy of the stored message.
func (s *InMemoryStore) GetMessage(ctx context.Context, messageID string) (StoredMessage, error) {
	if messageID == "" {
		return StoredMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.byID[messageID]
	if msg == nil {
		return StoredMessage{}, ErrMessageNotFound
	}
	return *msg, nil
}

// MarkRead marks the message read by readerID and returns the updated message.
// Marking twice by the same reader is a no-op.
func (s *InMemoryStore) MarkRead(ctx context.Context, messageID, readerID string) (StoredMessage, error) {
	if messageID == "" || readerID == "" {
		return StoredMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.byID[messageID]
	if msg == nil {
		return StoredMessage{}, ErrMessageNotFound
	}

	msg.Read = true
	seen := false
	for _, r := range msg.ReadBy {
		if r == readerID {
			seen = true
			break
		}
	}
	if !seen {
		msg.ReadBy = append(msg.ReadBy, readerID)
	}
	return *msg, nil
}

// InMemoryDirectory is a dev-only FriendProvider + GroupProvider built from
// static relations. Tests and single-binary demos seed it directly.
type InMemoryDirectory struct {
	mu      sync.RWMutex
	friends map[string]map[string]struct{} // user id -> set of friend ids
	groups  map[string]map[string]struct{} // group id -> set of member ids
}

// NewInMemoryDirectory constructs an empty directory.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		friends: make(map[string]map[string]struct{}),
		groups:  make(map[string]map[string]struct{}),
	}
}

// AddFriendship records a mutual friend relation.
func (d *InMemoryDirectory) AddFriendship(a, b string) {
	if a == "" || b == "" || a == b {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.friends[a] == nil {
		d.friends[a] = make(map[string]struct{})
	}
	if d.friends[b] == nil {
		d.friends[b] = make(map[string]struct{})
	}
	d.friends[a][b] = struct{}{}
	d.friends[b][a] = struct{}{}
}

// AddGroupMember adds userID to groupID.
func (d *InMemoryDirectory) AddGroupMember(groupID, userID string) {
	if groupID == "" || userID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.groups[groupID] == nil {
		d.groups[groupID] = make(map[string]struct{})
	}
	d.groups[groupID][userID] = struct{}{}
}

// FriendsOf implements FriendProvider.
func (d *InMemoryDirectory) FriendsOf(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.friends[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// MembersOf implements GroupProvider.
func (d *InMemoryDirectory) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.groups[groupID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// IsMember implements GroupProvider.
func (d *InMemoryDirectory) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.groups[groupID][userID]
	return ok, nil
}
