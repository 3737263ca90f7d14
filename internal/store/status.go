package store

import "slices"

// MessageStatus is the delivery state of a message as shown to the user.
type MessageStatus string

const (
	// Sending is the initial state of every locally originated message.
	Sending MessageStatus = "sending"
	// NotRead means the push channel accepted the frame.
	NotRead MessageStatus = "not_read"
	// Sent means the REST fallback accepted the message.
	Sent MessageStatus = "sent"
	// Failed means the REST fallback rejected the message.
	Failed MessageStatus = "failed"
	// Read means the conversation has been read.
	Read MessageStatus = "read"
)

var messageTransitions = map[MessageStatus][]MessageStatus{
	Sending: {NotRead, Sent, Failed},
	NotRead: {Read},
	Sent:    {Read},
}

// Valid reports whether s is one of the five known statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case Sending, NotRead, Sent, Failed, Read:
		return true
	}
	return false
}

// CanTransition reports whether a message in status s may move to to.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	return slices.Contains(messageTransitions[s], to)
}

// Settled reports whether s is a status the send path can finish in.
func (s MessageStatus) Settled() bool {
	return s == NotRead || s == Sent || s == Failed
}
