// Package routing is the presence and routing engine: it wires connections to users and rooms,
// keeps rooms in step with group membership, and persists then fans out messages and notifications.
package routing

import (
	"parley/cmd/internal/presence"
)

// Transport is the connection layer the engine drives. Emits are non-blocking: once queued the
// caller moves on, and a full or closed connection drops the event.
type Transport interface {
	presence.Transport

	// Emit queues one server event to connID.
	Emit(connID, kind string, payload any) error
	// EmitRoom queues one server event to every member of room except exceptConnID and
	// returns how many connections accepted it.
	EmitRoom(room, exceptConnID, kind string, payload any) int

	JoinRoom(connID, room string) error
	LeaveRoom(connID, room string) error
}

// Sender identifies the connection an event arrived on.
type Sender struct {
	ConnID   string
	Username string
}

// liveConnections filters the registry's view of username down to what the transport can reach.
func liveConnections(reg *presence.Registry, tr Transport, username string) []presence.Connection {
	conns := reg.Resolve(username)
	out := conns[:0]
	for _, c := range conns {
		if tr.IsLive(c.ID) {
			out = append(out, c)
		}
	}
	return out
}
