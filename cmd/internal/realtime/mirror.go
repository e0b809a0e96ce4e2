package realtime

import (
	"context"
	"time"
)

// PresenceMirror publishes online/offline state and last-seen timestamps to
// an external store so the CRUD layer can answer "is this user online" and
// "when were they last seen" without reaching into this process.
//
// Mirror writes are best-effort: the in-memory registry remains the single
// source of truth and a mirror failure never affects a transition.
type PresenceMirror interface {
	// SetOnline marks the user online with a TTL; Refresh renews it.
	SetOnline(ctx context.Context, userID string) error
	// SetOffline clears the online flag and records last-seen.
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
	// Refresh renews the TTL of every given online user.
	Refresh(ctx context.Context, userIDs []string) error
	// LastSeen returns the recorded last-seen time, zero if unknown. The
	// tracker reads it on the online edge to tell friends when the user was
	// previously seen.
	LastSeen(ctx context.Context, userID string) (time.Time, error)
}

// NoopMirror is used when no external presence store is configured.
type NoopMirror struct{}

// SetOnline implements PresenceMirror.
func (NoopMirror) SetOnline(context.Context, string) error { return nil }

// SetOffline implements PresenceMirror.
func (NoopMirror) SetOffline(context.Context, string, time.Time) error { return nil }

// Refresh implements PresenceMirror.
func (NoopMirror) Refresh(context.Context, []string) error { return nil }

// LastSeen implements PresenceMirror.
func (NoopMirror) LastSeen(context.Context, string) (time.Time, error) { return time.Time{}, nil }
