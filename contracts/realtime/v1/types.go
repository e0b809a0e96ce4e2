package v1

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ---- Handshake ----

// HelloPayload carries the single credential token for the session.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload confirms authentication and returns the connection id.
type HelloAckPayload struct {
	ConnID   string `json:"conn_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// ---- Message body (tagged variant) ----

// MessageKind discriminates message bodies on the wire.
type MessageKind string

// Message kinds (wire-stable, mirrors the persisted message schema).
const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindFile     MessageKind = "file"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindLocation MessageKind = "location"
	KindEmoji    MessageKind = "emoji"
)

// FileInfo describes an already-uploaded attachment. Upload handling itself
// is a separate subsystem; only the reference travels with the message.
type FileInfo struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name,omitempty"`
	FileSize     int64  `json:"file_size,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	FileURL      string `json:"file_url"`
	Thumbnail    string `json:"thumbnail,omitempty"`
}

// Location is a geographic point attached to a location message.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Media carries kind-specific media attributes.
type Media struct {
	DurationSec int `json:"duration_sec,omitempty"`
	Width       int `json:"width,omitempty"`
	Height      int `json:"height,omitempty"`
}

// MessageBody is the tagged message variant. Exactly the fields relevant to
// Kind may be set; Validate enforces this per kind.
type MessageBody struct {
	Kind     MessageKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	FileInfo *FileInfo   `json:"file_info,omitempty"`
	Location *Location   `json:"location,omitempty"`
	Media    *Media      `json:"media,omitempty"`
}

// Validate checks structural validity of the body for its kind.
func (b MessageBody) Validate() error {
	switch b.Kind {
	case KindText, KindEmoji:
		if strings.TrimSpace(b.Text) == "" {
			return fmt.Errorf("%s message: empty text", b.Kind)
		}
		if b.FileInfo != nil || b.Location != nil {
			return fmt.Errorf("%s message: unexpected attachment", b.Kind)
		}
		return nil

	case KindImage, KindFile, KindAudio, KindVideo:
		if b.FileInfo == nil {
			return fmt.Errorf("%s message: missing file_info", b.Kind)
		}
		if strings.TrimSpace(b.FileInfo.FileURL) == "" {
			return fmt.Errorf("%s message: missing file_info.file_url", b.Kind)
		}
		if strings.TrimSpace(b.FileInfo.Filename) == "" {
			return fmt.Errorf("%s message: missing file_info.filename", b.Kind)
		}
		if b.Location != nil {
			return fmt.Errorf("%s message: unexpected location", b.Kind)
		}
		return nil

	case KindLocation:
		if b.Location == nil {
			return errors.New("location message: missing location")
		}
		if b.Location.Latitude < -90 || b.Location.Latitude > 90 {
			return errors.New("location message: latitude out of range")
		}
		if b.Location.Longitude < -180 || b.Location.Longitude > 180 {
			return errors.New("location message: longitude out of range")
		}
		if b.FileInfo != nil {
			return errors.New("location message: unexpected attachment")
		}
		return nil

	case "":
		return errors.New("missing message kind")
	default:
		return fmt.Errorf("unknown message kind: %q", b.Kind)
	}
}

// ---- Sends and pushes ----

// SendDirectPayload requests delivery of a message to a single user.
type SendDirectPayload struct {
	ReceiverID  string      `json:"receiver_id"`
	ClientMsgID string      `json:"client_msg_id"`
	Body        MessageBody `json:"body"`
}

// SendGroupPayload requests delivery of a message to a group.
type SendGroupPayload struct {
	GroupID     string      `json:"group_id"`
	ClientMsgID string      `json:"client_msg_id"`
	Body        MessageBody `json:"body"`
}

// MessageAckPayload acknowledges a send request and returns the canonical server ids.
type MessageAckPayload struct {
	ClientMsgID string    `json:"client_msg_id"`
	MessageID   string    `json:"message_id"`
	ServerTS    time.Time `json:"server_ts"`
	Duplicate   bool      `json:"duplicate,omitempty"`
}

// MessagePushPayload is pushed for accepted messages (direct and group).
type MessagePushPayload struct {
	MessageID  string      `json:"message_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	ReceiverID string      `json:"receiver_id,omitempty"`
	GroupID    string      `json:"group_id,omitempty"`
	Body       MessageBody `json:"body"`
	ServerTS   time.Time   `json:"server_ts"`
}

// ---- Ephemeral signalling ----

// RoomJoinPayload joins an ephemeral signalling room.
type RoomJoinPayload struct {
	RoomID string `json:"room_id"`
}

// RoomLeavePayload leaves an ephemeral signalling room.
type RoomLeavePayload struct {
	RoomID string `json:"room_id"`
}

// TypingPayload relays a typing indicator. UserID/Username are filled by the
// server before the relay; clients only set RoomID and IsTyping.
type TypingPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// ---- Read receipts ----

// MarkReadPayload marks a message as read by the requesting user.
type MarkReadPayload struct {
	MessageID string `json:"message_id"`
}

// ReadReceiptPayload is pushed to the original sender's live connections.
type ReadReceiptPayload struct {
	MessageID string    `json:"message_id"`
	ReaderID  string    `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

// ---- Presence ----

// PresencePayload announces a friend's online/offline change.
type PresencePayload struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// ---- Errors ----

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
