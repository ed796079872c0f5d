// Package realtime is the WebSocket transport: it owns live connections and rooms and hands
// client events to a Handler.
package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "parley/shared/contracts/chat/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrUnknownConn is returned for a connection id the hub does not hold.
	ErrUnknownConn = errors.New("realtime: unknown connection")
	// ErrConnClosed is returned when the connection is shutting down.
	ErrConnClosed = errors.New("realtime: connection closed")
	// ErrBackpressure is returned when the connection's send queue is full.
	ErrBackpressure = errors.New("realtime: send queue full")
)

var (
	liveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ws_connections",
		Help: "WebSocket connections attached to the hub.",
	})
	droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_dropped_events_total",
		Help: "Server events dropped because a send queue was full or closed.",
	})
)

// Hub owns attached clients and rooms. A connection is live from Attach until Detach or Close.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]*Client),
		rooms:   make(map[string]*Room),
	}
}

// Attach makes c reachable by its ConnID.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	h.clients[c.ConnID] = c
	h.mu.Unlock()
	liveConnections.Inc()
}

// Detach forgets connID and drops it from every room it joined.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	_, ok := h.clients[connID]
	delete(h.clients, connID)
	for id, r := range h.rooms {
		if r.Leave(connID) {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()

	if ok {
		liveConnections.Dec()
	}
}

func (h *Hub) client(connID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

// IsLive reports whether connID is attached and not shutting down.
func (h *Hub) IsLive(connID string) bool {
	c := h.client(connID)
	return c != nil && !c.Closed()
}

// Disconnect signals connID to close. The gateway tears down the socket and detaches it.
func (h *Hub) Disconnect(connID string) {
	if c := h.client(connID); c != nil {
		c.Close()
		h.log.Info("hub.disconnect", "conn_id", connID)
	}
}

// Emit queues a server event to one connection without blocking.
func (h *Hub) Emit(connID, kind string, payload any) error {
	c := h.client(connID)
	if c == nil {
		return ErrUnknownConn
	}
	env, err := newEnvelope(kind, "", payload, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := c.offer(env); err != nil {
		droppedEvents.Inc()
		return err
	}
	return nil
}

// EmitRoom queues a server event to the room's members except exceptConnID.
func (h *Hub) EmitRoom(room, exceptConnID, kind string, payload any) int {
	h.mu.RLock()
	r := h.rooms[room]
	h.mu.RUnlock()
	if r == nil {
		return 0
	}

	env, err := newEnvelope(kind, "", payload, time.Now().UTC())
	if err != nil {
		h.log.Error("hub.emit_room.encode.fail", "room", room, "err", err)
		return 0
	}
	return r.Broadcast(env, exceptConnID)
}

// JoinRoom adds a live connection to room, creating the room on first join.
func (h *Hub) JoinRoom(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.clients[connID]
	if c == nil || c.Closed() {
		return ErrUnknownConn
	}
	r := h.rooms[room]
	if r == nil {
		r = NewRoom(room)
		h.rooms[room] = r
	}
	r.Join(c)
	return nil
}

// LeaveRoom removes connID from room. Leaving a room one is not in is a no-op.
func (h *Hub) LeaveRoom(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r := h.rooms[room]; r != nil && r.Leave(connID) {
		delete(h.rooms, room)
	}
	return nil
}

// RoomMembers lists the connection ids in room. Used for diagnostics and tests.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	r := h.rooms[room]
	h.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

func newEnvelope(kind, replyTo string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	id, err := NewEnvelopeID(ts)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{
		V:       v1.Version,
		Kind:    kind,
		ID:      id,
		ReplyTo: replyTo,
		TS:      ts,
		Payload: raw,
	}, nil
}
