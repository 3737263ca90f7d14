package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
)

// fakeBackend serves canned responses. history may block per peer through
// gates so tests can interleave fetches.
type fakeBackend struct {
	convs       []store.Conversation
	history     map[store.UserID][]store.Message
	gates       map[store.UserID]chan struct{}
	started     chan store.UserID
	users       map[store.UserID]store.Conversation
	markErr     error
	fetchErr    error
	markCalls   atomic.Int32
	convCalls   atomic.Int32
	userLookups atomic.Int32
}

func (f *fakeBackend) FetchConversations(context.Context) ([]store.Conversation, error) {
	f.convCalls.Add(1)
	return f.convs, f.fetchErr
}

func (f *fakeBackend) FetchMessages(ctx context.Context, peer store.UserID) ([]store.Message, error) {
	if f.started != nil {
		f.started <- peer
	}
	if gate, ok := f.gates[peer]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.history[peer], f.fetchErr
}

func (f *fakeBackend) MarkConversationRead(context.Context, store.UserID) error {
	f.markCalls.Add(1)
	return f.markErr
}

func (f *fakeBackend) FetchUser(_ context.Context, id store.UserID) (store.Conversation, error) {
	f.userLookups.Add(1)
	u, ok := f.users[id]
	if !ok {
		return store.Conversation{}, errors.New("no such user")
	}
	return u, nil
}

const self store.UserID = 1

func testEngine(t *testing.T, backend *fakeBackend) (*Engine, *store.Store, *bus.Bus) {
	t.Helper()
	db, err := store.OpenMigrated()
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	s := store.New(db, b)
	t.Cleanup(func() { _ = s.Close() })
	return NewEngine(s, backend, self, b, metrics.New(), nil), s, b
}

func history(peer store.UserID, ids ...string) []store.Message {
	msgs := make([]store.Message, len(ids))
	for i, id := range ids {
		msgs[i] = store.Message{ID: store.MessageID(id), PeerID: peer, SenderID: peer, Text: id, SentAt: time.UnixMilli(int64(i)), Status: store.NotRead}
	}
	return msgs
}

func messageIDs(t *testing.T, s *store.Store) []store.MessageID {
	t.Helper()
	msgs, err := s.Messages()
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]store.MessageID, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestFetchAllConversationsKeepsLocalOnly(t *testing.T) {
	backend := &fakeBackend{convs: []store.Conversation{{PeerID: 3}, {PeerID: 4}}}
	e, s, _ := testEngine(t, backend)

	if _, err := s.AddNewUserToConversation(store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := e.FetchAllConversations(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	convs, _ := s.Conversations()
	if len(convs) != 3 || convs[0].PeerID != 2 || convs[1].PeerID != 3 || convs[2].PeerID != 4 {
		t.Errorf("conversations = %+v, want [2 3 4]", convs)
	}
}

func TestFetchAllConversationsError(t *testing.T) {
	backend := &fakeBackend{fetchErr: errors.New("offline")}
	e, _, _ := testEngine(t, backend)
	if err := e.FetchAllConversations(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSelectConversationLoadsHistoryAndMarksRead(t *testing.T) {
	backend := &fakeBackend{history: map[store.UserID][]store.Message{2: history(2, "10", "11")}}
	e, s, _ := testEngine(t, backend)

	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}
	if got := backend.markCalls.Load(); got != 1 {
		t.Errorf("mark-read calls = %d, want 1", got)
	}
	ids := messageIDs(t, s)
	if len(ids) != 2 || ids[0] != "10" || ids[1] != "11" {
		t.Errorf("messages = %v, want [10 11]", ids)
	}
}

func TestSelectConversationIgnoresMarkReadFailure(t *testing.T) {
	backend := &fakeBackend{
		history: map[store.UserID][]store.Message{2: history(2, "10")},
		markErr: errors.New("503"),
	}
	e, s, _ := testEngine(t, backend)

	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 2}); err != nil {
		t.Fatalf("SelectConversation() = %v, want nil", err)
	}
	if ids := messageIDs(t, s); len(ids) != 1 {
		t.Errorf("messages = %v, want 1", ids)
	}
}

func TestStaleHistoryFetchIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{
		history: map[store.UserID][]store.Message{
			2: history(2, "from-2"),
			3: history(3, "from-3"),
		},
		gates:   map[store.UserID]chan struct{}{2: gate},
		started: make(chan store.UserID, 2),
	}
	e, s, _ := testEngine(t, backend)

	done := make(chan error, 1)
	go func() {
		done <- e.SelectConversation(context.Background(), store.Conversation{PeerID: 2})
	}()
	if peer := <-backend.started; peer != 2 {
		t.Fatalf("first fetch for %d, want 2", peer)
	}

	// The user switches while peer 2's history is still in flight.
	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 3}); err != nil {
		t.Fatal(err)
	}
	<-backend.started
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	ids := messageIDs(t, s)
	if len(ids) != 1 || ids[0] != "from-3" {
		t.Errorf("messages = %v, want [from-3]", ids)
	}
	if c, _, _ := s.Selected(); c.PeerID != 3 {
		t.Errorf("selected = %d, want 3", c.PeerID)
	}
}

func TestOpenConversationLooksUpUnknownPeer(t *testing.T) {
	backend := &fakeBackend{
		users: map[store.UserID]store.Conversation{2: {PeerID: 2, DisplayName: "B"}},
	}
	e, s, _ := testEngine(t, backend)
	if err := s.MergeConversations([]store.Conversation{{PeerID: 5}}); err != nil {
		t.Fatal(err)
	}

	if err := e.OpenConversation(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	convs, _ := s.Conversations()
	if convs[0].PeerID != 2 || convs[0].DisplayName != "B" {
		t.Errorf("head = %+v, want B", convs[0])
	}
	if !s.IsSelected(2) {
		t.Error("peer 2 not selected")
	}

	// Known peers are not looked up again.
	if err := e.OpenConversation(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if got := backend.userLookups.Load(); got != 1 {
		t.Errorf("user lookups = %d, want 1", got)
	}
}

func TestOpenConversationUnknownUser(t *testing.T) {
	e, s, _ := testEngine(t, &fakeBackend{})
	if err := e.OpenConversation(context.Background(), 42); err == nil {
		t.Fatal("expected error")
	}
	if _, _, ok := s.Selected(); ok {
		t.Error("selection changed on failed lookup")
	}
}

func TestStartConversationAddsAtHeadOnce(t *testing.T) {
	backend := &fakeBackend{convs: []store.Conversation{{PeerID: 7}}}
	e, s, _ := testEngine(t, backend)
	if err := e.FetchAllConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	b := store.Conversation{PeerID: 2, DisplayName: "B"}
	for i := 0; i < 2; i++ {
		if err := e.StartConversation(context.Background(), b); err != nil {
			t.Fatal(err)
		}
	}
	convs, _ := s.Conversations()
	if len(convs) != 2 || convs[0].PeerID != 2 {
		t.Errorf("conversations = %+v, want [2 7]", convs)
	}
}

func pushed(id int64, sender store.UserID, text string) protocol.MessageFrame {
	return protocol.MessageFrame{
		MessageID:      id,
		SenderID:       int64(sender),
		RecipientID:    int64(self),
		MessageContent: text,
		SentDate:       protocol.NewWireDate(time.Now()),
	}
}

func TestHandleMessageForActivePeer(t *testing.T) {
	e, s, _ := testEngine(t, &fakeBackend{})
	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}

	e.HandleMessage(pushed(100, 2, "hi"))
	msgs, _ := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != store.Read || msgs[0].ID != "100" || msgs[0].Text != "hi" {
		t.Errorf("message = %+v", msgs[0])
	}

	// The same frame again (an echo) must not duplicate the entry.
	e.HandleMessage(pushed(100, 2, "hi"))
	if msgs, _ := s.Messages(); len(msgs) != 1 {
		t.Errorf("got %d messages after echo, want 1", len(msgs))
	}
}

func TestHandleMessageWithoutServerID(t *testing.T) {
	e, s, _ := testEngine(t, &fakeBackend{})
	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}
	e.HandleMessage(pushed(0, 2, "a"))
	e.HandleMessage(pushed(0, 2, "b"))

	msgs, _ := s.Messages()
	if len(msgs) != 2 || msgs[0].Text != "a" || msgs[1].Text != "b" {
		t.Errorf("messages = %+v, want a then b", msgs)
	}
	if msgs[0].ID.IsLocal() {
		t.Error("pushed message got a local id")
	}
}

func TestHandleMessageForOtherPeer(t *testing.T) {
	backend := &fakeBackend{convs: []store.Conversation{{PeerID: 2}, {PeerID: 3}}}
	e, s, _ := testEngine(t, backend)
	if err := e.FetchAllConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}

	e.HandleMessage(pushed(200, 3, "psst"))
	e.HandleMessage(pushed(201, 99, "stranger"))

	if msgs, _ := s.Messages(); len(msgs) != 0 {
		t.Errorf("active list gained %d messages, want 0", len(msgs))
	}
	c, _ := s.Conversation(3)
	if c.UnreadCount != 1 {
		t.Errorf("unread(3) = %d, want 1", c.UnreadCount)
	}
	if c, _ := s.Conversation(99); c != nil {
		t.Error("unknown peer was added to the list")
	}
}

func TestHandleConversationRead(t *testing.T) {
	e, s, _ := testEngine(t, &fakeBackend{})
	if err := e.SelectConversation(context.Background(), store.Conversation{PeerID: 2}); err != nil {
		t.Fatal(err)
	}
	for _, st := range []store.MessageStatus{store.NotRead, store.Sent, store.NotRead} {
		if _, err := s.AddLocalMessage(store.Message{ID: store.NewLocalID(), PeerID: 2, SenderID: self, Status: st}); err != nil {
			t.Fatal(err)
		}
	}

	e.HandleConversationRead(protocol.ConversationReadFrame{SenderID: 3})
	msgs, _ := s.Messages()
	for _, m := range msgs {
		if m.Status == store.Read {
			t.Fatal("read receipt from another peer applied")
		}
	}

	e.HandleConversationRead(protocol.ConversationReadFrame{SenderID: 2})
	msgs, _ = s.Messages()
	for _, m := range msgs {
		if m.Status != store.Read {
			t.Errorf("%s status = %s, want read", m.ID, m.Status)
		}
	}
}

func TestEngineRefreshesConversationsOnReconnect(t *testing.T) {
	backend := &fakeBackend{convs: []store.Conversation{{PeerID: 4}}}
	e, s, b := testEngine(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	b.Emit(bus.KindConnStateChanged, status.StatusChange{Channel: "notify", From: status.Connecting, To: status.Open})
	b.Emit(bus.KindConnStateChanged, status.StatusChange{Channel: "chat", From: status.Connecting, To: status.Open})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, _ := s.Conversation(4); c != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if c, _ := s.Conversation(4); c == nil {
		t.Fatal("conversations not refreshed after chat reconnect")
	}
	if got := backend.convCalls.Load(); got != 1 {
		t.Errorf("conversation fetches = %d, want 1", got)
	}
}
