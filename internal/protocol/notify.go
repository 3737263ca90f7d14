package protocol

import "encoding/json"

// NotifyFrame is an inbound frame on the notification socket.
type NotifyFrame interface {
	Frame
	notifyFrame()
}

// UnreadCountFrame carries the aggregate unread message count.
type UnreadCountFrame struct {
	Count int `json:"count"`
}

func (UnreadCountFrame) FrameType() string { return TypeUnreadCount }

// MessageNotificationFrame summarizes a message received outside the open conversation.
type MessageNotificationFrame struct {
	SenderID       int64    `json:"senderId"`
	SenderName     string   `json:"senderName,omitempty"`
	MessageContent string   `json:"messageContent"`
	SentDate       WireDate `json:"sentDate"`
}

func (MessageNotificationFrame) FrameType() string { return TypeMessageNotification }

// Event categories carried by EventFrame.
const (
	CategoryAppraisal = "APPRAISAL"
	CategoryCycle     = "CYCLE"
	CategoryCourse    = "COURSE"
)

// EventFrame summarizes an administrative change (appraisal, cycle, course).
type EventFrame struct {
	Category string `json:"category"`
	Action   string `json:"action,omitempty"`
	EntityID int64  `json:"entityId,omitempty"`
	Title    string `json:"title,omitempty"`
}

func (EventFrame) FrameType() string { return TypeEvent }

func (UnreadCountFrame) notifyFrame()         {}
func (MessageNotificationFrame) notifyFrame() {}
func (EventFrame) notifyFrame()               {}
func (PingFrame) notifyFrame()                {}
func (AuthenticatedFrame) notifyFrame()       {}
func (AuthFailedFrame) notifyFrame()          {}
func (UnknownFrame) notifyFrame()             {}

// DecodeNotify decodes one notification socket frame.
func DecodeNotify(data []byte) (NotifyFrame, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeUnreadCount:
		return decodeInto[UnreadCountFrame](typ, data)
	case TypeMessageNotification:
		return decodeInto[MessageNotificationFrame](typ, data)
	case TypeEvent:
		return decodeInto[EventFrame](typ, data)
	case TypeAuthenticated:
		return decodeInto[AuthenticatedFrame](typ, data)
	case TypeAuthFailed:
		return decodeInto[AuthFailedFrame](typ, data)
	case TypePing:
		return PingFrame{}, nil
	default:
		return UnknownFrame{Type: typ, Raw: json.RawMessage(data)}, nil
	}
}
