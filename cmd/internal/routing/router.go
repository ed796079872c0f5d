package routing

import (
	"context"
	"log/slog"
	"strconv"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/presence"
	v1 "parley/shared/contracts/chat/v1"
)

// Router validates, persists and then delivers messages and notifications.
//
// Persistence happens before delivery so every recipient sees the store-assigned id. The
// caller's acknowledgment does not depend on how many recipients were live: an undelivered
// record is picked up by catch-up.
type Router struct {
	log    *slog.Logger
	reg    *presence.Registry
	repo   *chat.Repository
	tr     Transport
	events EventPublisher
}

func NewRouter(log *slog.Logger, reg *presence.Registry, repo *chat.Repository, tr Transport, events EventPublisher) *Router {
	if log == nil {
		log = slog.Default()
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Router{log: log, reg: reg, repo: repo, tr: tr, events: events}
}

// SendMessage routes a send_msg payload. Only text and voice payloads are accepted.
func (r *Router) SendMessage(ctx context.Context, from Sender, raw []byte) (v1.MessagePayload, error) {
	const op = "routing.SendMessage"

	var p v1.MessagePayload
	if err := decode(raw, &p, op); err != nil {
		return v1.MessagePayload{}, err
	}
	if !p.PayloadType.Routable() {
		return v1.MessagePayload{}, chat.OpError{Op: op, Kind: chat.ErrArg, Msg: "payloadType " + strconv.Itoa(int(p.PayloadType)) + " cannot be sent"}
	}

	rec, err := r.route(ctx, op, chat.ResourceMessage, from, p.Routing)
	if err != nil {
		return v1.MessagePayload{}, err
	}
	return rec.Message(), nil
}

// SendNotification routes a send_notification payload.
func (r *Router) SendNotification(ctx context.Context, from Sender, raw []byte) (v1.NotificationPayload, error) {
	const op = "routing.SendNotification"

	var p v1.NotificationPayload
	if err := decode(raw, &p, op); err != nil {
		return v1.NotificationPayload{}, err
	}

	rec, err := r.route(ctx, op, chat.ResourceNotification, from, p.Routing)
	if err != nil {
		return v1.NotificationPayload{}, err
	}
	return rec.Notification(), nil
}

func (r *Router) route(ctx context.Context, op string, kind chat.Resource, from Sender, p v1.Routing) (chat.Record, error) {
	if from.Username != "" {
		switch p.SenderName {
		case "":
			p.SenderName = from.Username
		case from.Username:
		default:
			return chat.Record{}, chat.OpError{Op: op, Kind: chat.ErrArg, Msg: "senderName " + p.SenderName + " does not match connection user"}
		}
	}

	// A record is addressed by its send type alone; the other field never reaches the store.
	switch p.SendType {
	case v1.SendSingle:
		p.GroupID = ""
	case v1.SendMass:
		p.ReceiverName = ""
	}

	if p.SendType == v1.SendMass {
		ok, err := r.repo.IsMember(ctx, p.GroupID, p.SenderName)
		if err != nil {
			return chat.Record{}, err
		}
		if !ok {
			return chat.Record{}, chat.OpError{Op: op, Kind: chat.ErrMembership, Msg: p.SenderName + " not in " + p.GroupID}
		}
	}

	rec, err := r.repo.InsertRecord(ctx, kind, chat.RecordFrom(p))
	if err != nil {
		return chat.Record{}, err
	}

	delivered := r.deliver(kind, from, rec)

	routedTotal.WithLabelValues(kind.String(), sendTypeLabel(rec.SendType)).Inc()
	deliveriesTotal.WithLabelValues(kind.String()).Add(float64(delivered))
	r.events.Publish(ctx, kind, rec)

	r.log.Debug("router.deliver",
		"resource", kind.String(),
		"id", rec.ID,
		"send_type", sendTypeLabel(rec.SendType),
		"from", rec.SenderName,
		"to", rec.ReceiverName,
		"group_id", rec.GroupID,
		"delivered", delivered,
	)
	return rec, nil
}

// deliver emits rec to the receiver's live connections or to the group room. The sending
// connection is skipped; it gets the record through its acknowledgment.
func (r *Router) deliver(kind chat.Resource, from Sender, rec chat.Record) int {
	evKind, payload := v1.KindOnMsg, any(rec.Message())
	if kind == chat.ResourceNotification {
		evKind, payload = v1.KindOnNotification, any(rec.Notification())
	}

	if rec.SendType == v1.SendMass {
		return r.tr.EmitRoom(rec.GroupID, from.ConnID, evKind, payload)
	}

	n := 0
	for _, c := range liveConnections(r.reg, r.tr, rec.ReceiverName) {
		if c.ID == from.ConnID {
			continue
		}
		if err := r.tr.Emit(c.ID, evKind, payload); err != nil {
			r.log.Debug("router.emit.drop", "conn_id", c.ID, "err", err)
			continue
		}
		n++
	}
	return n
}

// RecordAccess persists a send_access_res payload.
func (r *Router) RecordAccess(ctx context.Context, raw []byte) (chat.AccessRecord, error) {
	const op = "routing.RecordAccess"

	var p v1.AccessPayload
	if err := decode(raw, &p, op); err != nil {
		return chat.AccessRecord{}, err
	}
	return r.repo.InsertAccess(ctx, chat.AccessRecord{
		ResourceID: p.ResourceID,
		UserID:     p.UserID,
		Username:   p.Username,
		State:      p.State,
	})
}

// AckMessage advances the receiver's message cursor.
func (r *Router) AckMessage(ctx context.Context, raw []byte) error {
	const op = "routing.AckMessage"

	var p v1.AckMessagePayload
	if err := decode(raw, &p, op); err != nil {
		return err
	}
	return r.repo.Cursors().Advance(ctx, chat.ResourceMessage, p.ReceiverName, p.MsgID)
}

// AckNotification advances the receiver's notification cursor.
func (r *Router) AckNotification(ctx context.Context, raw []byte) error {
	const op = "routing.AckNotification"

	var p v1.AckNotificationPayload
	if err := decode(raw, &p, op); err != nil {
		return err
	}
	return r.repo.Cursors().Advance(ctx, chat.ResourceNotification, p.ReceiverName, p.NotificationID)
}

func sendTypeLabel(t v1.SendType) string {
	if t == v1.SendMass {
		return "mass"
	}
	return "single"
}
