package realtime

import (
	"context"
	"time"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

// The interfaces below are the boundary to the external collaborators of the
// realtime core. They are deliberately small: the core never caches their
// results beyond the scope of a single operation.

// StoredMessage is the canonical persisted message representation.
// Exactly one of ReceiverID / GroupID is set.
type StoredMessage struct {
	ID          string
	ClientMsgID string
	SenderID    string
	SenderName  string
	ReceiverID  string
	GroupID     string
	Body        v1.MessageBody
	Read        bool
	ReadBy      []string
	ServerTS    time.Time
}

// AppendInput describes a message append request.
type AppendInput struct {
	ClientMsgID string
	SenderID    string
	SenderName  string
	ReceiverID  string
	GroupID     string
	Body        v1.MessageBody
	Now         time.Time
}

// AppendResult is the append operation result.
type AppendResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// MessageStore mints message ids and timestamps and durably stores content
// BEFORE the router is invoked for live push. The router never writes here.
//
// Requirements:
//   - Idempotency per (sender_id, client_msg_id)
//   - Append assigns server id and timestamp
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	// GetMessage returns the stored message by server id, ErrMessageNotFound
	// when the id is unknown.
	GetMessage(ctx context.Context, messageID string) (StoredMessage, error)
	MarkRead(ctx context.Context, messageID, readerID string) (StoredMessage, error)
	Close() error
}

// FriendProvider resolves a user's friend list. Read-only.
type FriendProvider interface {
	FriendsOf(ctx context.Context, userID string) ([]string, error)
}

// GroupProvider resolves persisted group membership. Read-only.
type GroupProvider interface {
	MembersOf(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
}
