// Package v1 is the wire contract between chat clients and the routing engine.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	// Subprotocol is negotiated on the WebSocket upgrade.
	Subprotocol = "parley.chat.v1"

	// IdentityParam is the handshake query parameter carrying the JSON Identity.
	IdentityParam = "userInfo"
)

// Client to server.
const (
	KindSendMsg             = "send_msg"
	KindSendNotification    = "send_notification"
	KindSendAccessRes       = "send_access_res"
	KindAckChatMessage      = "ack_chat_message"
	KindAckChatNotification = "ack_chat_notification"
)

// Server to client.
const (
	KindAck            = "ack"
	KindOnMsg          = "on_msg"
	KindOnNotification = "on_notification"
	KindError          = "error"
)

var ClientKinds = map[string]struct{}{
	KindSendMsg:             {},
	KindSendNotification:    {},
	KindSendAccessRes:       {},
	KindAckChatMessage:      {},
	KindAckChatNotification: {},
}

type Envelope struct {
	V       int             `json:"v"`
	Kind    string          `json:"kind"`
	ID      string          `json:"id"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks the envelope of a client request.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Kind == "" {
		return errors.New("missing kind")
	}
	if _, ok := ClientKinds[e.Kind]; !ok {
		return fmt.Errorf("unsupported kind: %s", e.Kind)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// Code is the fixed reply code carried by every acknowledgment.
type Code int

const (
	CodeSuccess       Code = 200
	CodeFail          Code = -1
	CodeSQLError      Code = -2
	CodeJoinError     Code = -3
	CodeArgError      Code = -4
	CodeAlreadyExists Code = -5
	CodeNotExists     Code = -6
)

// Reply is the {code, msg|data} acknowledgment envelope used by both the realtime and admin surfaces.
type Reply struct {
	Code Code   `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

func OK(data any) Reply { return Reply{Code: CodeSuccess, Data: data} }

func Fail(code Code, msg string) Reply { return Reply{Code: code, Msg: msg} }

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
