package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync core. Subscribers filter by prefix,
// e.g. "store." or "conn.".
const (
	KindConversationsChanged = "store.conversations_changed"
	KindMessagesChanged      = "store.messages_changed"
	KindConnStateChanged     = "conn.state_changed"
	KindMessageSendFailed    = "message.send_failed"
	KindMessageSendAck       = "message.send_ack"
	KindNotifyUpdated        = "notify.updated"
	KindLoggedOut            = "session.logged_out"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
