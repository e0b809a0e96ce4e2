// Package v1 defines the imlast Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session: it carries the one credential token (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges a successful handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSendDirect requests delivery of a message to a single user (client -> server).
	TypeSendDirect = "send_direct"
	// TypeSendGroup requests delivery of a message to a group (client -> server).
	TypeSendGroup = "send_group"

	// TypeMessageAck acknowledges a send request with the canonical server ids (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew pushes an accepted direct message to the recipient (server -> client).
	TypeMessageNew = "message_new"
	// TypeGroupMessageNew pushes an accepted group message to members (server -> client).
	TypeGroupMessageNew = "group_message_new"

	// TypeRoomJoin joins an ephemeral signalling room (client -> server) and is echoed back.
	TypeRoomJoin = "room_join"
	// TypeRoomLeave leaves an ephemeral signalling room (client -> server).
	TypeRoomLeave = "room_leave"
	// TypeTyping relays a typing indicator to a room (both directions).
	TypeTyping = "typing"

	// TypeMarkRead marks a message as read (client -> server).
	TypeMarkRead = "mark_read"
	// TypeReadReceipt pushes a read confirmation to the original sender (server -> client).
	TypeReadReceipt = "read_receipt"

	// TypePresence pushes a friend's online/offline change (server -> client).
	TypePresence = "presence"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSendDirect,
		TypeSendGroup,
		TypeMessageAck,
		TypeMessageNew,
		TypeGroupMessageNew,
		TypeRoomJoin,
		TypeRoomLeave,
		TypeTyping,
		TypeMarkRead,
		TypeReadReceipt,
		TypePresence,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
