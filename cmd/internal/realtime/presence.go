package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

const defaultNotifyTimeout = 5 * time.Second

// PresenceTracker translates registry transitions into presence notifications
// for the user's friends, and mirrors the transition to the external presence
// store.
//
// Notification is fire-and-forget with respect to the triggering connection:
// HandleTransition returns immediately and the friend-list lookup plus pushes
// run on their own goroutine with a bounded timeout. Failures are logged, not
// swallowed and not propagated.
type PresenceTracker struct {
	log     *slog.Logger
	router  *Router
	friends FriendProvider
	mirror  PresenceMirror

	notifyTimeout time.Duration
}

// NewPresenceTracker constructs a tracker. mirror may be nil, in which case
// transitions are not mirrored externally.
func NewPresenceTracker(log *slog.Logger, router *Router, friends FriendProvider, mirror PresenceMirror) *PresenceTracker {
	if log == nil {
		log = slog.Default()
	}
	if mirror == nil {
		mirror = NoopMirror{}
	}
	return &PresenceTracker{
		log:           log,
		router:        router,
		friends:       friends,
		mirror:        mirror,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// HandleTransition reacts to a registry transition without blocking the
// caller. NoTransition (second device connecting, non-final disconnect) is
// ignored: only the zero-to-one and one-to-zero edges are observable.
func (p *PresenceTracker) HandleTransition(tr PresenceTransition) {
	if p == nil || tr.Kind == NoTransition {
		return
	}
	go p.Notify(tr)
}

// Notify performs the actual mirror write, friend lookup, and fan-out.
// Exposed separately so tests can drive it synchronously.
func (p *PresenceTracker) Notify(tr PresenceTransition) {
	if tr.Kind == NoTransition || tr.UserID == "" {
		return
	}

	metricPresenceTransitions.WithLabelValues(tr.Kind.String()).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), p.notifyTimeout)
	defer cancel()

	online := tr.Kind == WentOnline

	// On the online edge the payload carries when the user was last seen
	// before this session, so friends can render "back after a while".
	lastSeen := tr.At
	if online {
		if prev, err := p.mirror.LastSeen(ctx, tr.UserID); err != nil {
			p.log.Warn("presence.lastseen.fail", "user_id", tr.UserID, "err", err)
		} else if !prev.IsZero() {
			lastSeen = prev
		}
	}

	var mirrorErr error
	if online {
		mirrorErr = p.mirror.SetOnline(ctx, tr.UserID)
	} else {
		mirrorErr = p.mirror.SetOffline(ctx, tr.UserID, tr.At)
	}
	if mirrorErr != nil {
		p.log.Warn("presence.mirror.fail", "user_id", tr.UserID, "online", online, "err", mirrorErr)
	}

	if p.friends == nil || p.router == nil {
		return
	}

	friendIDs, err := p.friends.FriendsOf(ctx, tr.UserID)
	if err != nil {
		p.log.Warn("presence.friends.fail", "user_id", tr.UserID, "err", err)
		return
	}
	if len(friendIDs) == 0 {
		return
	}

	payload, err := json.Marshal(v1.PresencePayload{
		UserID:   tr.UserID,
		Username: tr.Username,
		Online:   online,
		LastSeen: lastSeen,
	})
	if err != nil {
		p.log.Error("presence.payload.fail", "user_id", tr.UserID, "err", err)
		return
	}

	for _, friendID := range friendIDs {
		env, err := NewServerEnvelope(v1.TypePresence, payload, tr.At)
		if err != nil {
			p.log.Error("presence.envelope.fail", "user_id", tr.UserID, "err", err)
			return
		}

		// Offline friends are a normal zero-delivery outcome.
		rep, err := p.router.Route(Outbound{Env: env}, DirectTarget(friendID))
		if err != nil {
			p.log.Warn("presence.push.fail", "user_id", tr.UserID, "friend_id", friendID, "err", err)
			continue
		}
		if rep.Dropped > 0 {
			p.log.Warn("presence.push.dropped",
				"user_id", tr.UserID,
				"friend_id", friendID,
				"dropped", rep.Dropped,
			)
		}
	}

	p.log.Info("presence.transition",
		"user_id", tr.UserID,
		"kind", tr.Kind.String(),
		"friends", len(friendIDs),
	)
}

// NewServerEnvelope builds a server-originated envelope with a fresh ULID id.
func NewServerEnvelope(typ string, payload json.RawMessage, ts time.Time) (v1.Envelope, error) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}, nil
}
