// Package presence tracks which live transport connections belong to which user.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	v1 "parley/shared/contracts/chat/v1"
)

// Connection is one transport handle owned by a user.
type Connection struct {
	ID     string
	Device v1.DeviceClass
}

// Transport is the registry's view of the connection layer.
type Transport interface {
	// IsLive reports whether id is still reachable. An unknown id is simply not live.
	IsLive(id string) bool
	// Disconnect forcibly closes id. Closing an unknown id is a no-op.
	Disconnect(id string)
}

// Mirror receives the live connection ids of a user after every change the registry observes.
type Mirror interface {
	Publish(ctx context.Context, username string, live []string) error
}

// RegisterResult reports what a registration removed besides the new connection.
type RegisterResult struct {
	Evicted []string
	Reaped  []string
}

// Registry maps username to the ordered connections of that user.
//
// Registrations are serialized by one mutex. Dead connections are not removed when they
// disconnect: the next Register for the same user sweeps them.
type Registry struct {
	log    *slog.Logger
	tr     Transport
	mirror Mirror

	mu    sync.Mutex
	users map[string][]Connection
	owner map[string]string

	locksMu sync.Mutex
	locks   map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry constructs a Registry over tr. mirror may be nil.
func NewRegistry(log *slog.Logger, tr Transport, mirror Mirror) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:    log,
		tr:     tr,
		mirror: mirror,
		users:  make(map[string][]Connection),
		owner:  make(map[string]string),
		locks:  make(map[string]*userLock),
	}
}

// LockUser serializes room wiring for username: a connect joining its rooms and a group update
// joining or leaving that user's connections never interleave. Call the returned func to release.
func (r *Registry) LockUser(username string) (unlock func()) {
	r.locksMu.Lock()
	l := r.locks[username]
	if l == nil {
		l = &userLock{}
		r.locks[username] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, username)
		}
		r.locksMu.Unlock()
	}
}

// Register appends c to username's connections. Before appending it scans the existing
// connections from the newest: a PRIMARY connection is evicted (disconnected and removed) when
// c is also PRIMARY, and any connection the transport no longer reports live is removed.
func (r *Registry) Register(ctx context.Context, username string, c Connection) RegisterResult {
	var res RegisterResult

	r.mu.Lock()

	// A handle belongs to at most one user.
	if prev, ok := r.owner[c.ID]; ok {
		r.users[prev] = without(r.users[prev], c.ID)
		if len(r.users[prev]) == 0 {
			delete(r.users, prev)
		}
	}

	conns := r.users[username]
	for i := len(conns) - 1; i >= 0; i-- {
		old := conns[i]
		switch {
		case old.Device == c.Device && c.Device == v1.DevicePrimary:
			res.Evicted = append(res.Evicted, old.ID)
		case !r.tr.IsLive(old.ID):
			res.Reaped = append(res.Reaped, old.ID)
		default:
			continue
		}
		conns = append(conns[:i], conns[i+1:]...)
		delete(r.owner, old.ID)
	}

	r.users[username] = append(conns, c)
	r.owner[c.ID] = username
	live := r.liveIDsLocked(username)

	r.mu.Unlock()

	for _, id := range res.Evicted {
		r.tr.Disconnect(id)
		r.log.Info("presence.evict.primary", "username", username, "conn_id", id, "by", c.ID)
	}
	if len(res.Reaped) > 0 {
		r.log.Debug("presence.reap", "username", username, "count", len(res.Reaped))
	}
	r.publish(ctx, username, live)

	return res
}

// Resolve returns username's connections without liveness filtering.
func (r *Registry) Resolve(username string) []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[username]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Connection, len(conns))
	copy(out, conns)
	return out
}

// Sync republishes username's live connections to the mirror without mutating the registry.
func (r *Registry) Sync(ctx context.Context, username string) {
	if r.mirror == nil {
		return
	}
	r.mu.Lock()
	live := r.liveIDsLocked(username)
	r.mu.Unlock()

	r.publish(ctx, username, live)
}

// Refresh republishes every user that still has a live connection, renewing the mirror's TTL.
// It returns how many users were published.
func (r *Registry) Refresh(ctx context.Context) int {
	if r.mirror == nil {
		return 0
	}

	r.mu.Lock()
	batch := make(map[string][]string, len(r.users))
	for u := range r.users {
		if live := r.liveIDsLocked(u); len(live) > 0 {
			batch[u] = live
		}
	}
	r.mu.Unlock()

	for u, live := range batch {
		r.publish(ctx, u, live)
	}
	return len(batch)
}

// KeepMirrored calls Refresh every interval until ctx is done. It returns at once without a
// mirror or with a non-positive interval.
func (r *Registry) KeepMirrored(ctx context.Context, every time.Duration) {
	if r.mirror == nil || every <= 0 {
		return
	}

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n := r.Refresh(ctx)
			r.log.Debug("presence.mirror.refresh", "users", n)
		}
	}
}

// UserPresence lists one user's live connection ids.
type UserPresence struct {
	Username    string
	Connections []string
}

// Snapshot counts users with at least one live connection.
type Snapshot struct {
	Size  int
	Users []UserPresence
}

// Snapshot reports live presence for username, or for every user when username is empty.
// Users without a live connection are omitted.
func (r *Registry) Snapshot(username string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.users))
	if username != "" {
		if _, ok := r.users[username]; ok {
			names = append(names, username)
		}
	} else {
		for u := range r.users {
			names = append(names, u)
		}
		sort.Strings(names)
	}

	var snap Snapshot
	for _, u := range names {
		live := r.liveIDsLocked(u)
		if len(live) == 0 {
			continue
		}
		snap.Users = append(snap.Users, UserPresence{Username: u, Connections: live})
	}
	snap.Size = len(snap.Users)
	return snap
}

func (r *Registry) liveIDsLocked(username string) []string {
	var out []string
	for _, c := range r.users[username] {
		if r.tr.IsLive(c.ID) {
			out = append(out, c.ID)
		}
	}
	return out
}

func (r *Registry) publish(ctx context.Context, username string, live []string) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.Publish(ctx, username, live); err != nil {
		r.log.Warn("presence.mirror.fail", "username", username, "err", err)
	}
}

func without(conns []Connection, id string) []Connection {
	out := conns[:0]
	for _, c := range conns {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
