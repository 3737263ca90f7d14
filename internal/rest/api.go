package rest

import (
	"context"
	"net/http"

	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/store"
)

// User is a user or conversation entry as the server returns it.
type User struct {
	ID           int64              `json:"id"`
	DisplayName  string             `json:"displayName"`
	Email        string             `json:"email"`
	OnlineStatus bool               `json:"onlineStatus"`
	LastSeen     *protocol.WireDate `json:"lastSeen"`
}

// Conversation converts u to the store's shape.
func (u User) Conversation() store.Conversation {
	c := store.Conversation{
		PeerID:      store.UserID(u.ID),
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Online:      u.OnlineStatus,
	}
	if u.LastSeen != nil && !u.LastSeen.IsZero() {
		t := u.LastSeen.Time
		c.LastSeen = &t
	}
	return c
}

// Message is a history entry as the server returns it.
type Message struct {
	ID             int64             `json:"id"`
	SenderID       int64             `json:"senderId"`
	RecipientID    int64             `json:"recipientId"`
	MessageContent string            `json:"messageContent"`
	SentDate       protocol.WireDate `json:"sentDate"`
	MessageIsRead  bool              `json:"messageIsRead"`
}

// StoreMessage converts m to the store's shape for the conversation with
// peer. The read flag becomes read or not_read.
func (m Message) StoreMessage(peer store.UserID) store.Message {
	st := store.NotRead
	if m.MessageIsRead {
		st = store.Read
	}
	return store.Message{
		ID:       store.ServerMessageID(m.ID),
		PeerID:   peer,
		SenderID: store.UserID(m.SenderID),
		Text:     m.MessageContent,
		SentAt:   m.SentDate.Time,
		Status:   st,
	}
}

type sendRequest struct {
	RecipientID int64  `json:"recipientId"`
	Message     string `json:"message"`
}

// FetchConversations returns the server's conversation list in its order.
func (c *Client) FetchConversations(ctx context.Context) ([]store.Conversation, error) {
	var users []User
	err := c.do(ctx, request{
		op:         "fetch_conversations",
		method:     http.MethodGet,
		path:       []string{"chat", "conversations"},
		idempotent: true,
	}, &users)
	if err != nil {
		return nil, err
	}
	convs := make([]store.Conversation, 0, len(users))
	for _, u := range users {
		convs = append(convs, u.Conversation())
	}
	return convs, nil
}

// FetchMessages returns the history of the conversation with peer, oldest first.
func (c *Client) FetchMessages(ctx context.Context, peer store.UserID) ([]store.Message, error) {
	var msgs []Message
	err := c.do(ctx, request{
		op:         "fetch_messages",
		method:     http.MethodGet,
		path:       []string{"chat", "messages", itoa(int64(peer))},
		idempotent: true,
	}, &msgs)
	if err != nil {
		return nil, err
	}
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.StoreMessage(peer))
	}
	return out, nil
}

// SendMessage posts a message to peer. It is attempted exactly once.
func (c *Client) SendMessage(ctx context.Context, peer store.UserID, text string) error {
	return c.do(ctx, request{
		op:     "send_message",
		method: http.MethodPost,
		path:   []string{"chat", "messages"},
		body:   sendRequest{RecipientID: int64(peer), Message: text},
	}, nil)
}

// MarkConversationRead marks every message from peer as read on the server.
func (c *Client) MarkConversationRead(ctx context.Context, peer store.UserID) error {
	return c.do(ctx, request{
		op:         "mark_read",
		method:     http.MethodPut,
		path:       []string{"chat", "conversations", itoa(int64(peer)), "read"},
		idempotent: true,
	}, nil)
}

// FetchUser looks a user up by id.
func (c *Client) FetchUser(ctx context.Context, id store.UserID) (store.Conversation, error) {
	var u User
	err := c.do(ctx, request{
		op:         "fetch_user",
		method:     http.MethodGet,
		path:       []string{"users", itoa(int64(id))},
		idempotent: true,
	}, &u)
	if err != nil {
		return store.Conversation{}, err
	}
	return u.Conversation(), nil
}
