package routing

import (
	"context"
	"log/slog"
	"strconv"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/presence"
	v1 "parley/shared/contracts/chat/v1"
)

// Engine bundles the routing components over one registry, repository and transport, and
// dispatches client events to them.
type Engine struct {
	log *slog.Logger

	Registry  *presence.Registry
	Lifecycle *Lifecycle
	Sync      *Synchronizer
	Router    *Router
	CatchUp   *CatchUp
}

// NewEngine wires the components. mirror and events may be nil.
func NewEngine(log *slog.Logger, repo *chat.Repository, tr Transport, mirror presence.Mirror, events EventPublisher) *Engine {
	if log == nil {
		log = slog.Default()
	}
	reg := presence.NewRegistry(log, tr, mirror)
	return &Engine{
		log:       log,
		Registry:  reg,
		Lifecycle: NewLifecycle(log, reg, repo, tr),
		Sync:      NewSynchronizer(log, reg, repo, tr),
		Router:    NewRouter(log, reg, repo, tr, events),
		CatchUp:   NewCatchUp(repo),
	}
}

// Connect registers a freshly accepted connection and returns the owning username.
func (e *Engine) Connect(ctx context.Context, connID, rawIdentity string) (string, error) {
	id, err := e.Lifecycle.Connect(ctx, connID, rawIdentity)
	if err != nil {
		return "", err
	}
	return id.Username, nil
}

func (e *Engine) Disconnect(ctx context.Context, connID, username string) {
	e.Lifecycle.Disconnected(ctx, connID, username)
}

// HandleEvent runs one client event and returns the acknowledgment for it.
func (e *Engine) HandleEvent(ctx context.Context, connID, username, kind string, payload []byte) v1.Reply {
	from := Sender{ConnID: connID, Username: username}

	var (
		data any
		err  error
	)
	switch kind {
	case v1.KindSendMsg:
		data, err = e.Router.SendMessage(ctx, from, payload)
	case v1.KindSendNotification:
		data, err = e.Router.SendNotification(ctx, from, payload)
	case v1.KindSendAccessRes:
		_, err = e.Router.RecordAccess(ctx, payload)
	case v1.KindAckChatMessage:
		// Acks are best effort: the client is never asked to retry them.
		if aerr := e.Router.AckMessage(ctx, payload); aerr != nil {
			e.log.Info("router.ack.fail", "kind", kind, "conn_id", connID, "err", aerr)
		}
	case v1.KindAckChatNotification:
		if aerr := e.Router.AckNotification(ctx, payload); aerr != nil {
			e.log.Info("router.ack.fail", "kind", kind, "conn_id", connID, "err", aerr)
		}
	default:
		err = chat.OpError{Op: "routing.HandleEvent", Kind: chat.ErrArg, Msg: "unsupported kind " + kind}
	}

	if err != nil {
		reply := chat.ReplyFor(err)
		failuresTotal.WithLabelValues(kind, strconv.Itoa(int(reply.Code))).Inc()
		e.log.Info("router.reject", "kind", kind, "conn_id", connID, "username", username, "code", reply.Code, "err", err)
		return reply
	}
	return v1.OK(data)
}
