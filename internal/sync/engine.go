package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is the subset of the REST collaborators the engine reads from.
type Backend interface {
	FetchConversations(ctx context.Context) ([]store.Conversation, error)
	FetchMessages(ctx context.Context, peer store.UserID) ([]store.Message, error)
	MarkConversationRead(ctx context.Context, peer store.UserID) error
	FetchUser(ctx context.Context, id store.UserID) (store.Conversation, error)
}

// Engine keeps the store in step with the server. It ingests frames pushed
// on the chat channel, runs the conversation and history fetches, and marks
// conversations read when they are opened.
type Engine struct {
	store   *store.Store
	backend Backend
	self    store.UserID
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	cancel  context.CancelFunc
}

var _ transport.ChatHandler = (*Engine)(nil)

// NewEngine creates a sync engine for the user self.
func NewEngine(s *store.Store, backend Backend, self store.UserID, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   s,
		backend: backend,
		self:    self,
		bus:     b,
		metrics: m,
		logger:  logger,
	}
}

// Start subscribes to connection events and refreshes the conversation
// list whenever the chat channel (re)opens, so conversations that changed
// while it was down show up.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindConnStateChanged, 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	change, ok := evt.Payload.(status.StatusChange)
	if !ok || change.Channel != transport.ChannelChat || change.To != status.Open {
		return
	}
	if err := e.FetchAllConversations(ctx); err != nil {
		e.logger.Warn("refresh conversations after reconnect", zap.Error(err))
	}
}

// FetchAllConversations replaces the conversation list with the server's,
// keeping conversations started locally that the server does not list yet.
func (e *Engine) FetchAllConversations(ctx context.Context) error {
	convs, err := e.backend.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	if err := e.store.MergeConversations(convs); err != nil {
		return fmt.Errorf("merge conversations: %w", err)
	}
	e.logger.Debug("conversations merged", zap.Int("server", len(convs)))
	return nil
}

// FetchUserConversation loads the history of peer into the active list. gen
// is the selection generation the fetch was issued for; if the selection
// has moved on by the time the history arrives, it is discarded.
func (e *Engine) FetchUserConversation(ctx context.Context, peer store.UserID, gen uint64) error {
	msgs, err := e.backend.FetchMessages(ctx, peer)
	if err != nil {
		return fmt.Errorf("fetch messages for %d: %w", peer, err)
	}
	applied, err := e.store.ReplaceMessages(gen, msgs)
	if err != nil {
		return fmt.Errorf("replace messages: %w", err)
	}
	if !applied {
		e.metrics.StaleFetchDiscarded()
		e.logger.Debug("discarding stale history", zap.Int64("peer", int64(peer)), zap.Uint64("generation", gen))
	}
	return nil
}

// SelectConversation makes c the active conversation, then marks it read on
// the server and loads its history concurrently. A failed mark-read is
// logged and otherwise ignored; a failed history fetch is returned.
func (e *Engine) SelectConversation(ctx context.Context, c store.Conversation) error {
	gen, err := e.store.SetSelectedUser(c)
	if err != nil {
		return fmt.Errorf("select conversation: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := e.backend.MarkConversationRead(ctx, c.PeerID); err != nil {
			e.logger.Warn("mark conversation read", zap.Int64("peer", int64(c.PeerID)), zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return e.FetchUserConversation(ctx, c.PeerID, gen)
	})
	return g.Wait()
}

// StartConversation opens a conversation picked from search results,
// adding it to the head of the list if it is not known yet.
func (e *Engine) StartConversation(ctx context.Context, c store.Conversation) error {
	if _, err := e.store.AddNewUserToConversation(c); err != nil {
		return fmt.Errorf("add conversation: %w", err)
	}
	return e.SelectConversation(ctx, c)
}

// OpenConversation opens the conversation with peer by id alone, looking
// the user up on the server when the peer is not in the list.
func (e *Engine) OpenConversation(ctx context.Context, peer store.UserID) error {
	c, err := e.store.Conversation(peer)
	if err != nil {
		return fmt.Errorf("lookup conversation %d: %w", peer, err)
	}
	if c == nil {
		u, err := e.backend.FetchUser(ctx, peer)
		if err != nil {
			return fmt.Errorf("fetch user %d: %w", peer, err)
		}
		c = &u
	}
	return e.StartConversation(ctx, *c)
}

// HandleMessage ingests a message pushed on the chat channel. A message
// from the selected peer is appended as read unless it is already listed.
// A message from any other known peer only bumps that conversation's
// unread counter.
func (e *Engine) HandleMessage(f protocol.MessageFrame) {
	peer := store.UserID(f.SenderID)
	if e.store.IsSelected(peer) {
		id := pushedID(f)
		if e.store.IsMessageAlreadyInQueue(id) {
			return
		}
		_, err := e.store.AddLocalMessage(store.Message{
			ID:       id,
			PeerID:   peer,
			SenderID: peer,
			Text:     f.MessageContent,
			SentAt:   f.SentDate.Time,
			Status:   store.Read,
		})
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrNoActiveConversation) {
			e.logger.Error("append pushed message", zap.String("msg_id", string(id)), zap.Error(err))
			return
		}
		// The selection moved while the frame was handled.
	}
	if peer == e.self {
		return
	}
	if _, err := e.store.IncrementUnread(peer); err != nil {
		e.logger.Error("increment unread", zap.Int64("peer", int64(peer)), zap.Error(err))
	}
}

// HandleConversationRead marks the active list read when the peer that read
// it is the selected conversation.
func (e *Engine) HandleConversationRead(f protocol.ConversationReadFrame) {
	n, err := e.store.MarkConversationAsReadFor(store.UserID(f.SenderID))
	if err != nil {
		e.logger.Error("mark conversation read", zap.Int64("peer", f.SenderID), zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Debug("peer read conversation", zap.Int64("peer", f.SenderID), zap.Int("messages", n))
	}
}

// pushedID is the store id of a pushed message. Frames without a server id
// get a fresh one that cannot collide with server or local ids.
func pushedID(f protocol.MessageFrame) store.MessageID {
	if f.MessageID != 0 {
		return store.ServerMessageID(f.MessageID)
	}
	return store.MessageID("push-" + uuid.NewString())
}
