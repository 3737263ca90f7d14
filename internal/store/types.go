package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserID identifies a user; a conversation is keyed by its peer's UserID.
type UserID int64

// MessageID is either a server-assigned id (decimal digits) or a local id
// minted before the server knows the message (prefixed with "local-").
type MessageID string

const localPrefix = "local-"

// NewLocalID returns a process-unique id for an optimistic message.
func NewLocalID() MessageID {
	return MessageID(localPrefix + uuid.NewString())
}

// ServerMessageID formats a server-assigned message id.
func ServerMessageID(id int64) MessageID {
	return MessageID(strconv.FormatInt(id, 10))
}

// IsLocal reports whether id was minted by this client.
func (id MessageID) IsLocal() bool {
	return strings.HasPrefix(string(id), localPrefix)
}

// Conversation is a peer plus the presence metadata shown next to it.
type Conversation struct {
	PeerID      UserID
	DisplayName string
	Email       string
	Online      bool
	LastSeen    *time.Time
	// LocalOnly marks a conversation started on this client that the
	// server's conversation list has not returned yet.
	LocalOnly   bool
	UnreadCount int
}

// Message is one entry in the active conversation's list.
type Message struct {
	ID       MessageID
	PeerID   UserID
	SenderID UserID
	Text     string
	SentAt   time.Time
	Status   MessageStatus
}
