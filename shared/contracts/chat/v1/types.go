package v1

// DeviceClass distinguishes a user's primary client from auxiliary ones.
type DeviceClass int

const (
	DevicePrimary   DeviceClass = 0
	DeviceSecondary DeviceClass = 1
)

func (d DeviceClass) String() string {
	if d == DeviceSecondary {
		return "secondary"
	}
	return "primary"
}

type SendType int

const (
	SendSingle SendType = 0
	SendMass   SendType = 1
)

// PayloadType enumerates the recognized message and notification subtypes.
type PayloadType int

const (
	PayloadText      PayloadType = 0
	PayloadVoice     PayloadType = 2
	PayloadJoinLeave PayloadType = 5
	PayloadChange    PayloadType = 6
)

// Routable reports whether a chat message of this type may be sent by a client.
// Membership change types are produced by the admin surface only.
func (p PayloadType) Routable() bool {
	return p == PayloadText || p == PayloadVoice
}

// Identity is the JSON handshake payload sent in the userInfo query parameter.
type Identity struct {
	Username    string      `json:"username" validate:"required,max=64"`
	UserID      string      `json:"userId" validate:"max=64"`
	Nickname    string      `json:"nickname" validate:"max=64"`
	Avatar      string      `json:"avatar" validate:"max=512"`
	DeviceClass DeviceClass `json:"deviceClass" validate:"oneof=0 1"`
}

// Routing holds the addressing and body shared by messages and notifications.
type Routing struct {
	SenderName   string      `json:"senderName" validate:"required_if=SendType 1,max=64"`
	ReceiverName string      `json:"receiverName" validate:"required_if=SendType 0,max=64"`
	GroupID      string      `json:"groupId" validate:"required_if=SendType 1,max=64"`
	SendType     SendType    `json:"sendType" validate:"oneof=0 1"`
	PayloadType  PayloadType `json:"payloadType" validate:"oneof=0 2 5 6"`
	Content      string      `json:"content" validate:"max=16000"`
	SendTime     int64       `json:"sendTime,omitempty"`
}

// MessagePayload is the body of send_msg and on_msg. MsgID is assigned by the store.
type MessagePayload struct {
	MsgID int64 `json:"msgId,omitempty"`
	Routing
}

// NotificationPayload is the body of send_notification and on_notification.
type NotificationPayload struct {
	NotificationID int64 `json:"notificationId,omitempty"`
	Routing
}

// AccessPayload is the body of send_access_res.
type AccessPayload struct {
	ResourceID string `json:"resourceId" validate:"required,max=128"`
	Username   string `json:"username" validate:"required,max=64"`
	UserID     string `json:"userId" validate:"max=64"`
	State      int    `json:"state" validate:"oneof=0 1"`
}

type AckMessagePayload struct {
	ReceiverName string `json:"receiverName" validate:"required,max=64"`
	MsgID        int64  `json:"msgId" validate:"gt=0"`
}

type AckNotificationPayload struct {
	ReceiverName   string `json:"receiverName" validate:"required,max=64"`
	NotificationID int64  `json:"notificationId" validate:"gt=0"`
}

// GroupInfo is the mutable group row carried by create and update requests.
type GroupInfo struct {
	Name        string `json:"name" validate:"max=128"`
	MemberCount int    `json:"memberCount" validate:"gte=0"`
	CreatorID   string `json:"creatorId" validate:"max=64"`
}

type Member struct {
	Username string `json:"username" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"max=64"`
	Nickname string `json:"nickname" validate:"max=64"`
}

// GroupRequest is the admin body for group create and update.
type GroupRequest struct {
	GroupID string     `json:"groupId" validate:"required,max=64"`
	Group   *GroupInfo `json:"group" validate:"required"`
	Members []Member   `json:"members" validate:"dive"`
}

type DeleteGroupRequest struct {
	GroupID string `json:"groupId" validate:"required,max=64"`
}

type PresenceUser struct {
	Username    string   `json:"username"`
	Connections []string `json:"connections"`
}

type PresenceSnapshot struct {
	Size  int            `json:"size"`
	Users []PresenceUser `json:"users"`
}
