package routing

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/chat/v1"

	"github.com/nats-io/nats.go"
)

// EventPublisher taps persisted records for other services. Publishing never fails a send.
type EventPublisher interface {
	Publish(ctx context.Context, kind chat.Resource, rec chat.Record)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, chat.Resource, chat.Record) {}

// NATSPublisher publishes every persisted record as JSON to
// <prefix>.<message|notification>.<user|group>.<name>.
type NATSPublisher struct {
	log    *slog.Logger
	nc     *nats.Conn
	prefix string
}

func NewNATSPublisher(log *slog.Logger, nc *nats.Conn, prefix string) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "parley"
	}
	return &NATSPublisher{log: log, nc: nc, prefix: prefix}
}

// Subject returns the subject rec is published on.
func (p *NATSPublisher) Subject(kind chat.Resource, rec chat.Record) string {
	if rec.SendType == v1.SendMass {
		return p.prefix + "." + kind.String() + ".group." + subjectToken(rec.GroupID)
	}
	return p.prefix + "." + kind.String() + ".user." + subjectToken(rec.ReceiverName)
}

func (p *NATSPublisher) Publish(_ context.Context, kind chat.Resource, rec chat.Record) {
	var payload any = rec.Message()
	if kind == chat.ResourceNotification {
		payload = rec.Notification()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("events.marshal.fail", "err", err)
		return
	}
	subj := p.Subject(kind, rec)
	if err := p.nc.Publish(subj, data); err != nil {
		p.log.Warn("events.publish.fail", "subject", subj, "err", err)
	}
}

// subjectToken keeps user-supplied names from adding subject levels or wildcards.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}
