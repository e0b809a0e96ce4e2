// Package realtime implements the live messaging and presence core:
// the connection registry, the message router, the presence tracker, the
// ephemeral signal relay, and the WebSocket gateway that feeds them.
//
// Everything here is process-memory state rebuilt from zero on restart.
// Presence and fan-out are consistent because a single process holds all
// live connections; multi-process fan-out would need a shared presence
// store or a pub/sub backbone and is an explicit non-goal for now.
//
// Persistence (message history, friend lists, group membership) lives
// behind the collaborator interfaces in store.go; this package never owns
// durable state.
package realtime
