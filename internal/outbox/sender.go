package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned for a message with no visible text.
var ErrEmptyMessage = errors.New("empty message")

// Send paths, as reported in events and metrics.
const (
	PathPush = "push"
	PathREST = "rest"
)

// ChatSender is the push path: it reports whether the chat socket took the frame.
type ChatSender interface {
	SendMessage(peer store.UserID, text string) bool
}

// FallbackSender is the REST path used when the push path is unavailable.
type FallbackSender interface {
	SendMessage(ctx context.Context, peer store.UserID, text string) error
}

// SendAck is the payload of a message.send_ack event.
type SendAck struct {
	ID     store.MessageID
	PeerID store.UserID
	Path   string
	Status store.MessageStatus
}

// SendFailure is the payload of a message.send_failed event.
type SendFailure struct {
	ID     store.MessageID
	PeerID store.UserID
	Err    error
}

// Sender runs the send orchestration for messages typed by the user.
type Sender struct {
	store    *store.Store
	chat     ChatSender
	fallback FallbackSender
	self     store.UserID
	bus      *bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewSender creates a sender for the user self.
func NewSender(s *store.Store, chat ChatSender, fallback FallbackSender, self store.UserID, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		store:    s,
		chat:     chat,
		fallback: fallback,
		self:     self,
		bus:      b,
		metrics:  m,
		logger:   logger,
	}
}

// Send queues text for peer and delivers it, returning the message as it
// ended up. It is Queue followed by Deliver.
func (s *Sender) Send(ctx context.Context, peer store.UserID, text string) (store.Message, error) {
	msg, err := s.Queue(peer, text)
	if err != nil {
		return store.Message{}, err
	}
	return s.Deliver(ctx, msg), nil
}

// Queue appends text to the active list as a sending message and returns it.
// No network call is made, so callers that queue from a single goroutine get
// their messages listed in call order. An error means nothing was queued,
// because the text was empty or peer is not the active conversation.
func (s *Sender) Queue(peer store.UserID, text string) (store.Message, error) {
	if strings.TrimSpace(text) == "" {
		return store.Message{}, ErrEmptyMessage
	}

	msg := store.Message{
		ID:       store.NewLocalID(),
		PeerID:   peer,
		SenderID: s.self,
		Text:     text,
		SentAt:   time.Now(),
		Status:   store.Sending,
	}
	if _, err := s.store.AddLocalMessage(msg); err != nil {
		return store.Message{}, fmt.Errorf("queue message: %w", err)
	}
	return msg, nil
}

// Deliver sends a queued message. If the chat socket takes the frame the
// message becomes not_read; otherwise it goes over REST and becomes sent or
// failed. Network failures end in the failed status and a
// message.send_failed event.
func (s *Sender) Deliver(ctx context.Context, msg store.Message) store.Message {
	if s.chat.SendMessage(msg.PeerID, msg.Text) {
		return s.settle(msg, PathPush, store.NotRead)
	}

	if err := s.fallback.SendMessage(ctx, msg.PeerID, msg.Text); err != nil {
		s.logger.Error("fallback send failed",
			zap.String("msg_id", string(msg.ID)),
			zap.Int64("peer", int64(msg.PeerID)),
			zap.Error(err))
		msg = s.settle(msg, PathREST, store.Failed)
		s.bus.Emit(bus.KindMessageSendFailed, SendFailure{ID: msg.ID, PeerID: msg.PeerID, Err: err})
		return msg
	}
	return s.settle(msg, PathREST, store.Sent)
}

func (s *Sender) settle(msg store.Message, path string, to store.MessageStatus) store.Message {
	if !to.Settled() {
		s.logger.Error("send cannot finish in status", zap.String("msg_id", string(msg.ID)), zap.String("status", string(to)))
		return msg
	}
	// The conversation may have been switched while the send was in
	// flight; the update is then a no-op.
	if _, err := s.store.UpdateMessageStatus(msg.ID, to); err != nil {
		s.logger.Error("update message status", zap.String("msg_id", string(msg.ID)), zap.Error(err))
	}
	msg.Status = to
	s.metrics.SendCompleted(path, string(to))
	if to != store.Failed {
		s.logger.Info("message sent", zap.String("msg_id", string(msg.ID)), zap.String("path", path))
		s.bus.Emit(bus.KindMessageSendAck, SendAck{ID: msg.ID, PeerID: msg.PeerID, Path: path, Status: to})
	}
	return msg
}
