package realtime

import (
	"sync"
	"time"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

// Client represents one live, authenticated transport connection.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - A Client is exclusively owned by the Registry between Register and Deregister.
type Client struct {
	// ID is the connection id, unique per live connection.
	ID string
	// UserID is the owning user identity.
	UserID string
	// Username is carried for signal payloads (typing, presence).
	Username string
	// ConnectedAt is the registration timestamp.
	ConnectedAt time.Time

	// Send is the bounded per-connection delivery queue. The writer
	// goroutine drains it in order, which gives per-connection FIFO.
	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID, userID, username string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:          connID,
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now().UTC(),
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep fan-out safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// TryEnqueue offers env to the client's send queue without blocking.
// It reports false when the client is shutting down or the queue is full;
// callers count the drop rather than stall the whole fan-out.
func (c *Client) TryEnqueue(env v1.Envelope) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
