package realtime

import (
	"sync"

	v1 "parley/shared/contracts/chat/v1"
)

// Room is an in-memory fan-out group, one per chat group id.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
type Room struct {
	ID string

	mu      sync.RWMutex
	members map[string]*Client
}

func NewRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*Client)}
}

// Join adds a client to the room. Joining twice is a no-op.
func (r *Room) Join(c *Client) {
	if r == nil || c == nil || c.ConnID == "" {
		return
	}
	r.mu.Lock()
	r.members[c.ConnID] = c
	r.mu.Unlock()
}

// Leave removes connID and reports whether the room is now empty.
func (r *Room) Leave(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connID)
	return len(r.members) == 0
}

func (r *Room) Has(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[connID]
	return ok
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast queues env to every member except exceptConnID and returns how many accepted it.
func (r *Room) Broadcast(env v1.Envelope, exceptConnID string) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id, m := range r.members {
		if id == exceptConnID || m == nil {
			continue
		}
		if m.offer(env) != nil {
			// Drop rather than block the whole room.
			droppedEvents.Inc()
			continue
		}
		n++
	}
	return n
}
