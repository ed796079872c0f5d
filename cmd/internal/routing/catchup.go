package routing

import (
	"context"

	"parley/cmd/internal/chat"
	v1 "parley/shared/contracts/chat/v1"
)

// CatchUp serves the resume queries used by reconnecting clients.
type CatchUp struct {
	repo *chat.Repository
}

func NewCatchUp(repo *chat.Repository) *CatchUp {
	return &CatchUp{repo: repo}
}

// Messages returns the messages after lastID (or after the stored cursor when lastID is 0).
// No new messages is a successful empty list.
func (c *CatchUp) Messages(ctx context.Context, username string, lastID int64) ([]v1.MessagePayload, error) {
	recs, err := c.repo.CatchUp(ctx, chat.ResourceMessage, username, lastID)
	if err != nil {
		return nil, err
	}
	out := make([]v1.MessagePayload, len(recs))
	for i, r := range recs {
		out[i] = r.Message()
	}
	return out, nil
}

// Notifications is the notification counterpart of Messages, except that an empty result is
// reported as ErrNoNewNotification. Existing clients rely on that code.
func (c *CatchUp) Notifications(ctx context.Context, username string, lastID int64) ([]v1.NotificationPayload, error) {
	recs, err := c.repo.CatchUp(ctx, chat.ResourceNotification, username, lastID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, chat.OpError{Op: "routing.CatchUp.Notifications", Kind: chat.ErrNoNewNotification}
	}
	out := make([]v1.NotificationPayload, len(recs))
	for i, r := range recs {
		out[i] = r.Notification()
	}
	return out, nil
}
