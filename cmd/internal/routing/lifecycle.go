package routing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/presence"
	v1 "parley/shared/contracts/chat/v1"
)

// Lifecycle moves a connection from CONNECTING to REGISTERED, or straight to DISCONNECTED when
// its identity is missing or unusable.
type Lifecycle struct {
	log  *slog.Logger
	reg  *presence.Registry
	repo *chat.Repository
	tr   Transport
}

func NewLifecycle(log *slog.Logger, reg *presence.Registry, repo *chat.Repository, tr Transport) *Lifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{log: log, reg: reg, repo: repo, tr: tr}
}

// Connect parses rawIdentity, registers connID under the user, upserts the user row and joins
// the connection to every group room of the user. Any failure disconnects connID: a connection
// left half-joined is not trusted.
func (l *Lifecycle) Connect(ctx context.Context, connID, rawIdentity string) (v1.Identity, error) {
	id, err := parseIdentity(rawIdentity)
	if err != nil {
		return l.abort(connID, "identity", err)
	}

	// Held until every room is joined, so a concurrent group update sees this connection either
	// before it reads memberships or after it has joined.
	unlock := l.reg.LockUser(id.Username)
	defer unlock()

	res := l.reg.Register(ctx, id.Username, presence.Connection{ID: connID, Device: id.DeviceClass})
	evictionsTotal.WithLabelValues("primary").Add(float64(len(res.Evicted)))
	evictionsTotal.WithLabelValues("dead").Add(float64(len(res.Reaped)))

	created, err := l.repo.TouchUser(ctx, id)
	if err != nil {
		return l.abort(connID, "touch_user", err)
	}

	groups, err := l.repo.GroupIDsOf(ctx, id.Username)
	if err != nil {
		return l.abort(connID, "load_groups", err)
	}
	for _, g := range groups {
		if err := l.tr.JoinRoom(connID, g); err != nil {
			return l.abort(connID, "join_room", chat.OpError{Op: "routing.Connect", Kind: chat.ErrTransport, Msg: g, Err: err})
		}
	}

	registrationsTotal.WithLabelValues("ok").Inc()
	l.log.Info("lifecycle.registered",
		"conn_id", connID,
		"username", id.Username,
		"device", id.DeviceClass.String(),
		"new_user", created,
		"rooms", len(groups),
	)
	return id, nil
}

// Disconnected records the transport's disconnect signal. The registry entry stays until the
// user's next registration sweeps it; only the presence mirror is refreshed.
func (l *Lifecycle) Disconnected(ctx context.Context, connID, username string) {
	l.log.Info("lifecycle.disconnected", "conn_id", connID, "username", username)
	if username != "" {
		l.reg.Sync(ctx, username)
	}
}

func (l *Lifecycle) abort(connID, stage string, err error) (v1.Identity, error) {
	registrationsTotal.WithLabelValues("rejected").Inc()
	l.log.Info("lifecycle.reject", "conn_id", connID, "stage", stage, "err", err)
	l.tr.Disconnect(connID)
	return v1.Identity{}, err
}

func parseIdentity(raw string) (v1.Identity, error) {
	const op = "routing.parseIdentity"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return v1.Identity{}, chat.OpError{Op: op, Kind: chat.ErrParse, Msg: "missing identity"}
	}
	var id v1.Identity
	if err := decode([]byte(raw), &id, op); err != nil {
		return v1.Identity{}, err
	}
	return id, nil
}

// decode turns contract decode failures into chat error kinds.
func decode(raw []byte, dst any, op string) error {
	err := v1.DecodePayload(raw, dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, v1.ErrMalformed):
		return chat.OpError{Op: op, Kind: chat.ErrParse, Err: err}
	default:
		return chat.OpError{Op: op, Kind: chat.ErrArg, Msg: err.Error()}
	}
}
