// Package model holds the TUI's cached view of the sync core.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Actions are the conversation operations the TUI triggers.
type Actions interface {
	FetchAllConversations(ctx context.Context) error
	SelectConversation(ctx context.Context, c store.Conversation) error
	OpenConversation(ctx context.Context, peer store.UserID) error
}

// Sender lists a message on the active conversation, then delivers it.
type Sender interface {
	Queue(peer store.UserID, text string) (store.Message, error)
	Deliver(ctx context.Context, msg store.Message) store.Message
}

// ViewModel caches Store state and signals UI refreshes on bus events.
type ViewModel struct {
	mu sync.RWMutex

	store   *store.Store
	actions Actions
	sender  Sender
	bus     *bus.Bus
	self    store.UserID
	Flash   *ui.FlashModel

	conversations []store.Conversation
	messages      []store.Message
	selected      *store.Conversation
	channels      map[string]status.State
	notes         notify.Snapshot

	refreshCh chan struct{}
}

// NewViewModel creates a view model over the sync core.
func NewViewModel(s *store.Store, actions Actions, sender Sender, b *bus.Bus, self store.UserID) *ViewModel {
	return &ViewModel{
		store:     s,
		actions:   actions,
		sender:    sender,
		bus:       b,
		self:      self,
		Flash:     ui.NewFlashModel(),
		channels:  make(map[string]status.State),
		refreshCh: make(chan struct{}, 1),
	}
}

// Self returns the logged-in user id.
func (vm *ViewModel) Self() store.UserID {
	return vm.self
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Watch applies bus events to the cache until ctx is done.
func (vm *ViewModel) Watch(ctx context.Context) {
	events, unsub := vm.bus.Subscribe("", 64)
	defer unsub()
	vm.Reload()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			vm.Apply(evt)
		}
	}
}

// Apply updates the cache for one event and signals a refresh.
func (vm *ViewModel) Apply(evt bus.Event) {
	switch evt.Kind {
	case bus.KindConversationsChanged:
		vm.loadConversations()
	case bus.KindMessagesChanged:
		vm.loadMessages()
	case bus.KindConnStateChanged:
		if change, ok := evt.Payload.(status.StatusChange); ok {
			vm.mu.Lock()
			vm.channels[change.Channel] = change.To
			vm.mu.Unlock()
		}
	case bus.KindNotifyUpdated:
		if snap, ok := evt.Payload.(notify.Snapshot); ok {
			vm.mu.Lock()
			vm.notes = snap
			vm.mu.Unlock()
		}
	case bus.KindMessageSendFailed:
		if f, ok := evt.Payload.(outbox.SendFailure); ok {
			vm.Flash.Warn(fmt.Sprintf("Message not delivered: %v", f.Err))
		} else {
			vm.Flash.Warn("Message not delivered")
		}
	default:
		return
	}
	vm.signalRefresh()
}

// Reload reads conversations and messages from the Store.
func (vm *ViewModel) Reload() {
	vm.loadConversations()
	vm.loadMessages()
	vm.signalRefresh()
}

func (vm *ViewModel) loadConversations() {
	convs, err := vm.store.Conversations()
	if err != nil {
		vm.Flash.Err(err)
		return
	}
	vm.mu.Lock()
	vm.conversations = convs
	vm.mu.Unlock()
}

func (vm *ViewModel) loadMessages() {
	msgs, err := vm.store.Messages()
	if err != nil {
		vm.Flash.Err(err)
		return
	}
	sel, _, ok := vm.store.Selected()
	vm.mu.Lock()
	vm.messages = msgs
	if ok {
		vm.selected = &sel
	} else {
		vm.selected = nil
	}
	vm.mu.Unlock()
}

// Refresh re-fetches the conversation list from the server.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	if err := vm.actions.FetchAllConversations(ctx); err != nil {
		vm.Flash.Err(fmt.Errorf("refresh: %w", err))
		return err
	}
	return nil
}

// Select makes c the active conversation.
func (vm *ViewModel) Select(ctx context.Context, c store.Conversation) error {
	if err := vm.actions.SelectConversation(ctx, c); err != nil {
		vm.Flash.Err(fmt.Errorf("open conversation: %w", err))
		return err
	}
	return nil
}

// Open selects the conversation with peer, looking the user up when unknown.
func (vm *ViewModel) Open(ctx context.Context, peer store.UserID) error {
	if err := vm.actions.OpenConversation(ctx, peer); err != nil {
		vm.Flash.Err(fmt.Errorf("open user %d: %w", peer, err))
		return err
	}
	return nil
}

// Deselect leaves the active conversation; later pushes from that peer
// count as unread.
func (vm *ViewModel) Deselect() {
	if err := vm.store.ClearSelectedUser(); err != nil {
		vm.Flash.Err(err)
	}
}

// Queue lists text on the active conversation as sending. Messages queued
// from one goroutine are listed in call order.
func (vm *ViewModel) Queue(text string) (store.Message, error) {
	sel, ok := vm.Selected()
	if !ok {
		err := errors.New("no conversation selected")
		vm.Flash.Err(err)
		return store.Message{}, err
	}
	msg, err := vm.sender.Queue(sel.PeerID, text)
	if err != nil {
		vm.Flash.Err(err)
		return store.Message{}, err
	}
	return msg, nil
}

// Deliver sends a queued message. A delivery failure surfaces through the
// send_failed event.
func (vm *ViewModel) Deliver(ctx context.Context, msg store.Message) {
	vm.sender.Deliver(ctx, msg)
}

// Logout announces the end of the session.
func (vm *ViewModel) Logout() {
	vm.bus.Emit(bus.KindLoggedOut, nil)
}

// Conversations returns a snapshot of the conversation list.
func (vm *ViewModel) Conversations() []store.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Messages returns a snapshot of the active message list.
func (vm *ViewModel) Messages() []store.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// Selected returns the active conversation.
func (vm *ViewModel) Selected() (store.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.selected == nil {
		return store.Conversation{}, false
	}
	return *vm.selected, true
}

// Channel returns the last known state of a channel.
func (vm *ViewModel) Channel(name string) status.State {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if st, ok := vm.channels[name]; ok {
		return st
	}
	return status.Disconnected
}

// Notifications returns the last notification snapshot.
func (vm *ViewModel) Notifications() notify.Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.notes
}
