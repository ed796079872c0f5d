// Package chat holds the persisted chat model and the repository that reads and writes it
// through the transactional store adapter.
package chat

import (
	v1 "parley/shared/contracts/chat/v1"
)

// User is a chat_user row.
type User struct {
	Username  string `db:"username"`
	UserID    string `db:"user_id"`
	Nickname  string `db:"nickname"`
	Avatar    string `db:"avatar"`
	CreatedAt int64  `db:"created_at"`
	LastLogin int64  `db:"last_login"`
}

// Group is a chat_group row.
type Group struct {
	GroupID     string `db:"group_id"`
	Name        string `db:"name"`
	MemberCount int    `db:"member_count"`
	CreatorID   string `db:"creator_id"`
	CreatedAt   int64  `db:"created_at"`
}

// Member is a group_member row, unique per (GroupID, Username).
type Member struct {
	GroupID  string `db:"group_id"`
	Username string `db:"username"`
	UserID   string `db:"user_id"`
	Nickname string `db:"nickname"`
}

// Record is a persisted message or notification. Records are immutable once written and
// ID is strictly increasing per table.
type Record struct {
	ID           int64          `db:"id"`
	SenderName   string         `db:"sender_name"`
	ReceiverName string         `db:"receiver_name"`
	GroupID      string         `db:"group_id"`
	SendType     v1.SendType    `db:"send_type"`
	PayloadType  v1.PayloadType `db:"payload_type"`
	Content      string         `db:"content"`
	SendTime     int64          `db:"send_time"`
}

func (r Record) routing() v1.Routing {
	return v1.Routing{
		SenderName:   r.SenderName,
		ReceiverName: r.ReceiverName,
		GroupID:      r.GroupID,
		SendType:     r.SendType,
		PayloadType:  r.PayloadType,
		Content:      r.Content,
		SendTime:     r.SendTime,
	}
}

func (r Record) Message() v1.MessagePayload {
	return v1.MessagePayload{MsgID: r.ID, Routing: r.routing()}
}

func (r Record) Notification() v1.NotificationPayload {
	return v1.NotificationPayload{NotificationID: r.ID, Routing: r.routing()}
}

// RecordFrom copies the addressing of a wire payload into an unsaved Record.
func RecordFrom(p v1.Routing) Record {
	return Record{
		SenderName:   p.SenderName,
		ReceiverName: p.ReceiverName,
		GroupID:      p.GroupID,
		SendType:     p.SendType,
		PayloadType:  p.PayloadType,
		Content:      p.Content,
		SendTime:     p.SendTime,
	}
}

// AccessRecord is an access_record row.
type AccessRecord struct {
	ID         int64  `db:"id"`
	ResourceID string `db:"resource_id"`
	UserID     string `db:"user_id"`
	Username   string `db:"username"`
	State      int    `db:"state"`
	AccessTime int64  `db:"access_time"`
}

// Cursor is the per-user catch-up high-water mark.
type Cursor struct {
	Username           string `db:"username"`
	LastMessageID      int64  `db:"last_message_id"`
	LastNotificationID int64  `db:"last_notification_id"`
}

// Resource selects the message or notification table for catch-up.
type Resource int

const (
	ResourceMessage Resource = iota
	ResourceNotification
)

func (r Resource) table() string {
	if r == ResourceNotification {
		return "chat_notification"
	}
	return "chat_message"
}

func (r Resource) cursorColumn() string {
	if r == ResourceNotification {
		return "last_notification_id"
	}
	return "last_message_id"
}

func (r Resource) String() string {
	if r == ResourceNotification {
		return "notification"
	}
	return "message"
}
