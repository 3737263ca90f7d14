// Package protocol defines the frames exchanged on the chat and notification
// sockets. Each socket's inbound vocabulary is a closed set of Go types
// (a tagged union) decoded once at the transport boundary; types the client
// does not know decode to UnknownFrame instead of failing.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Wire type tags.
const (
	TypeMessage             = "MESSAGE"
	TypeAuthenticated       = "AUTHENTICATED"
	TypeAuthFailed          = "AUTH_FAILED"
	TypeConversationRead    = "CONVERSATION_READ"
	TypePing                = "PING"
	TypePong                = "PONG"
	TypeSuccess             = "SUCCESS"
	TypeUnreadCount         = "UNREAD_COUNT"
	TypeMessageNotification = "MESSAGE_NOTIFICATION"
	TypeEvent               = "EVENT"
)

// Frame is any decoded inbound frame.
type Frame interface {
	FrameType() string
}

type envelope struct {
	Type string `json:"type"`
}

// PingFrame is the server's liveness check. Both sockets receive it.
type PingFrame struct{}

func (PingFrame) FrameType() string { return TypePing }

// AuthenticatedFrame acknowledges the bearer token sent on dial.
type AuthenticatedFrame struct {
	UserID int64 `json:"userId,omitempty"`
}

func (AuthenticatedFrame) FrameType() string { return TypeAuthenticated }

// AuthFailedFrame rejects the bearer token; the connection is unusable.
type AuthFailedFrame struct {
	Reason string `json:"message,omitempty"`
}

func (AuthFailedFrame) FrameType() string { return TypeAuthFailed }

// UnknownFrame carries a frame whose type tag this client does not handle.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (f UnknownFrame) FrameType() string { return f.Type }

// Pong is the keep-alive reply.
type Pong struct {
	Type string `json:"type"`
}

// NewPong returns the reply to a PING.
func NewPong() Pong {
	return Pong{Type: TypePong}
}

// IsPing reports whether f is a keep-alive ping.
func IsPing(f Frame) bool {
	return f != nil && f.FrameType() == TypePing
}

func peekType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	return env.Type, nil
}

func decodeInto[T any](typ string, data []byte) (T, error) {
	var f T
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode %s frame: %w", typ, err)
	}
	return f, nil
}
