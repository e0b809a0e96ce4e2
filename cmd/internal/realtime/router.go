package realtime

import (
	"errors"
	"log/slog"

	v1 "github.com/yesuf435/imlast/contracts/realtime/v1"
)

// ErrInvalidTarget is returned for a malformed target descriptor.
// This is a programming-error-class condition: a recipient being offline is
// never an error (see Route).
var ErrInvalidTarget = errors.New("realtime: invalid target")

type targetKind uint8

const (
	targetNone targetKind = iota
	targetDirect
	targetGroup
)

// Target describes the resolved recipients of one routed envelope.
// Construct it with DirectTarget or GroupTarget; the zero value is invalid.
type Target struct {
	kind targetKind

	// UserID is the single recipient for direct targets.
	UserID string

	// GroupID and Members describe a group target. Members is the current
	// membership resolved at send time; it is never cached by the router.
	GroupID string
	Members []string
}

// DirectTarget addresses every live connection of a single user.
func DirectTarget(userID string) Target {
	return Target{kind: targetDirect, UserID: userID}
}

// GroupTarget addresses the union of live connections of all members.
func GroupTarget(groupID string, members []string) Target {
	return Target{kind: targetGroup, GroupID: groupID, Members: members}
}

func (t Target) metricLabel() string {
	if t.kind == targetGroup {
		return "group"
	}
	return "direct"
}

// Outbound is one routed envelope plus its echo policy.
type Outbound struct {
	Env v1.Envelope

	// ExcludeConnID, when set, skips the originating connection so a sender
	// never receives their own send back on the device that issued it.
	// The sender's OTHER devices receive group messages like any member.
	ExcludeConnID string
}

// DeliveryReport summarizes a single Route call.
// Zero deliveries with a nil error is a normal outcome (recipient offline).
type DeliveryReport struct {
	// Recipients is the number of users the target resolved to.
	Recipients int
	// Delivered is the number of connections the envelope was enqueued to.
	Delivered int
	// Dropped is the number of connections skipped under backpressure.
	Dropped int
}

// Router fans out already-persisted envelopes to live connections.
//
// It holds only a non-owning reference into the Registry, looks up live sets
// per call, and never retries or buffers: live push is best-effort at-most-once
// per connection, offline delivery is the persistence layer's job.
type Router struct {
	log      *slog.Logger
	registry *Registry
}

// NewRouter constructs a Router over the given registry.
func NewRouter(log *slog.Logger, registry *Registry) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log, registry: registry}
}

// Route delivers out to every live connection of the target's recipients.
//
// It fails only on a malformed target descriptor. A recipient with zero live
// connections contributes zero deliveries and no error.
func (ro *Router) Route(out Outbound, t Target) (DeliveryReport, error) {
	if ro == nil || ro.registry == nil {
		return DeliveryReport{}, errors.New("realtime: nil router")
	}

	var users []string
	switch t.kind {
	case targetDirect:
		if t.UserID == "" {
			return DeliveryReport{}, ErrInvalidTarget
		}
		users = []string{t.UserID}
	case targetGroup:
		if t.GroupID == "" {
			return DeliveryReport{}, ErrInvalidTarget
		}
		users = t.Members
	default:
		return DeliveryReport{}, ErrInvalidTarget
	}

	label := t.metricLabel()
	rep := DeliveryReport{Recipients: len(users)}

	seen := make(map[string]struct{}, len(users))
	for _, uid := range users {
		if uid == "" {
			continue
		}
		// A member list may repeat ids; each connection gets at most one push.
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}

		for _, c := range ro.registry.LiveConnections(uid) {
			if c.ID == out.ExcludeConnID {
				continue
			}
			if c.TryEnqueue(out.Env) {
				rep.Delivered++
				metricDeliveries.WithLabelValues(label).Inc()
				continue
			}
			rep.Dropped++
			metricDrops.WithLabelValues(label).Inc()
			ro.log.Warn("router.drop",
				"conn_id", c.ID,
				"user_id", c.UserID,
				"env_type", out.Env.Type,
			)
		}
	}

	return rep, nil
}
