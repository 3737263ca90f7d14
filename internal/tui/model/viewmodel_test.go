package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
)

type fakeActions struct {
	store    *store.Store
	opened   []store.UserID
	fetchErr error
}

func (f *fakeActions) FetchAllConversations(context.Context) error { return f.fetchErr }

func (f *fakeActions) SelectConversation(_ context.Context, c store.Conversation) error {
	_, err := f.store.SetSelectedUser(c)
	return err
}

func (f *fakeActions) OpenConversation(_ context.Context, peer store.UserID) error {
	f.opened = append(f.opened, peer)
	return nil
}

type fakeSender struct {
	peers     []store.UserID
	delivered []store.Message
	err       error
}

func (f *fakeSender) Queue(peer store.UserID, text string) (store.Message, error) {
	if f.err != nil {
		return store.Message{}, f.err
	}
	f.peers = append(f.peers, peer)
	return store.Message{PeerID: peer, Text: text, Status: store.Sending}, nil
}

func (f *fakeSender) Deliver(_ context.Context, msg store.Message) store.Message {
	f.delivered = append(f.delivered, msg)
	msg.Status = store.NotRead
	return msg
}

func newTestVM(t *testing.T) (*ViewModel, *store.Store, *fakeActions, *fakeSender, *bus.Bus) {
	t.Helper()
	db, err := store.OpenMigrated()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	b := bus.New()
	s := store.New(db, b)
	t.Cleanup(func() { _ = s.Close() })
	actions := &fakeActions{store: s}
	sender := &fakeSender{}
	return NewViewModel(s, actions, sender, b, 1), s, actions, sender, b
}

func TestReloadReadsStore(t *testing.T) {
	vm, s, _, _, _ := newTestVM(t)
	if err := s.MergeConversations([]store.Conversation{{PeerID: 2, DisplayName: "Bob"}}); err != nil {
		t.Fatal(err)
	}
	vm.Reload()

	convs := vm.Conversations()
	if len(convs) != 1 || convs[0].DisplayName != "Bob" {
		t.Errorf("Conversations() = %+v", convs)
	}
	if _, ok := vm.Selected(); ok {
		t.Error("Selected() reported a conversation before any selection")
	}
}

func TestSelectAndSend(t *testing.T) {
	vm, _, _, sender, _ := newTestVM(t)
	ctx := context.Background()

	if _, err := vm.Queue("hi"); err == nil {
		t.Error("Queue without a selection succeeded")
	}
	if vm.Flash.Current() == nil {
		t.Error("no flash for send without selection")
	}

	if err := vm.Select(ctx, store.Conversation{PeerID: 2, DisplayName: "Bob"}); err != nil {
		t.Fatal(err)
	}
	vm.Apply(bus.NewEvent(bus.KindMessagesChanged, nil))
	sel, ok := vm.Selected()
	if !ok || sel.PeerID != 2 {
		t.Fatalf("Selected() = %+v, %v", sel, ok)
	}

	msg, err := vm.Queue("hi")
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(sender.peers) != 1 || sender.peers[0] != 2 {
		t.Errorf("queued to %v, want [2]", sender.peers)
	}
	vm.Deliver(ctx, msg)
	if len(sender.delivered) != 1 || sender.delivered[0].Text != "hi" {
		t.Errorf("delivered %+v", sender.delivered)
	}

	vm.Deselect()
	vm.Reload()
	if _, ok := vm.Selected(); ok {
		t.Error("Deselect left a selection")
	}
}

func TestSendErrorFlashes(t *testing.T) {
	vm, _, _, sender, _ := newTestVM(t)
	ctx := context.Background()
	_ = vm.Select(ctx, store.Conversation{PeerID: 2})
	vm.Reload()

	sender.err = outbox.ErrEmptyMessage
	if _, err := vm.Queue(" "); !errors.Is(err, outbox.ErrEmptyMessage) {
		t.Errorf("Queue err = %v", err)
	}
	if m := vm.Flash.Current(); m == nil || m.Text != outbox.ErrEmptyMessage.Error() {
		t.Errorf("flash = %+v", m)
	}
}

func TestSendFailedEventFlashes(t *testing.T) {
	vm, _, _, _, _ := newTestVM(t)
	vm.Apply(bus.NewEvent(bus.KindMessageSendFailed, outbox.SendFailure{ID: "local-1", PeerID: 2, Err: errors.New("503")}))

	m := vm.Flash.Current()
	if m == nil || m.Text != "Message not delivered: 503" {
		t.Errorf("flash = %+v", m)
	}
	select {
	case <-vm.RefreshCh():
	default:
		t.Error("no refresh signalled")
	}
}

func TestChannelAndNotificationEvents(t *testing.T) {
	vm, _, _, _, _ := newTestVM(t)
	if got := vm.Channel("chat"); got != status.Disconnected {
		t.Errorf("initial chat state = %s", got)
	}
	vm.Apply(bus.NewEvent(bus.KindConnStateChanged, status.StatusChange{Channel: "chat", From: status.Connecting, To: status.Open}))
	if got := vm.Channel("chat"); got != status.Open {
		t.Errorf("chat state = %s, want OPEN", got)
	}
	if got := vm.Channel("notify"); got != status.Disconnected {
		t.Errorf("notify state = %s, want DISCONNECTED", got)
	}

	vm.Apply(bus.NewEvent(bus.KindNotifyUpdated, notify.Snapshot{Unread: 4}))
	if got := vm.Notifications().Unread; got != 4 {
		t.Errorf("unread = %d, want 4", got)
	}
}

func TestOpenAndRefreshDelegate(t *testing.T) {
	vm, _, actions, _, _ := newTestVM(t)
	ctx := context.Background()

	if err := vm.Open(ctx, 9); err != nil {
		t.Fatal(err)
	}
	if len(actions.opened) != 1 || actions.opened[0] != 9 {
		t.Errorf("opened = %v", actions.opened)
	}

	actions.fetchErr = errors.New("offline")
	if err := vm.Refresh(ctx); err == nil {
		t.Error("Refresh swallowed the error")
	}
	if vm.Flash.Current() == nil {
		t.Error("no flash for refresh failure")
	}
}

func TestWatchFollowsBus(t *testing.T) {
	vm, s, _, _, b := newTestVM(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		vm.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	logout, unsub := b.Subscribe(bus.KindLoggedOut, 1)
	defer unsub()

	deadline := time.After(5 * time.Second)
	for {
		if err := s.MergeConversations([]store.Conversation{{PeerID: 3, DisplayName: "Carol"}}); err != nil {
			t.Fatal(err)
		}
		if len(vm.Conversations()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("view model never saw the merge")
		case <-time.After(20 * time.Millisecond):
		}
	}

	vm.Logout()
	select {
	case <-logout:
	case <-time.After(time.Second):
		t.Fatal("Logout did not emit session.logged_out")
	}
}

type openChat struct{}

func (openChat) SendMessage(store.UserID, string) bool { return true }

type noREST struct{}

func (noREST) SendMessage(context.Context, store.UserID, string) error {
	return errors.New("unused")
}

func TestBackToBackSendsKeepTypedOrder(t *testing.T) {
	db, err := store.OpenMigrated()
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	s := store.New(db, b)
	t.Cleanup(func() { _ = s.Close() })
	sender := outbox.NewSender(s, openChat{}, noREST{}, 1, b, nil, nil)
	vm := NewViewModel(s, &fakeActions{store: s}, sender, b, 1)
	ctx := context.Background()
	if err := vm.Select(ctx, store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}
	vm.Reload()

	var typed []string
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		text := fmt.Sprintf("m%d", i)
		typed = append(typed, text)
		msg, err := vm.Queue(text)
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			vm.Deliver(ctx, msg)
		}()
	}
	wg.Wait()
	vm.Reload()

	msgs := vm.Messages()
	if len(msgs) != len(typed) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(typed))
	}
	for i, m := range msgs {
		if m.Text != typed[i] {
			t.Errorf("msgs[%d] = %q, want %q", i, m.Text, typed[i])
		}
	}
}
