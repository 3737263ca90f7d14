package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer accepts WebSocket upgrades and hands each server-side socket
// to the test.
type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn

	mu   sync.Mutex
	auth []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.auth = append(ts.auth, r.Header.Get("Authorization"))
		ts.mu.Unlock()
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- ws
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no connection")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	frames []protocol.ChatFrame
}

func (r *recorder) handle(f protocol.ChatFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) snapshot() []protocol.ChatFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ChatFrame(nil), r.frames...)
}

func newChatConn(t *testing.T, url string, rec *recorder, b *bus.Bus) *Conn[protocol.ChatFrame] {
	t.Helper()
	opts := Options[protocol.ChatFrame]{
		Channel: "chat",
		URL:     url,
		Token:   "secret",
		Decode:  protocol.DecodeChat,
		Bus:     b,
	}
	if rec != nil {
		opts.Handle = rec.handle
	}
	c := New(opts)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEnsureDialsWithBearerToken(t *testing.T) {
	ts := newTestServer(t)
	c := newChatConn(t, ts.wsURL(), nil, nil)

	assert.Equal(t, status.Disconnected, c.State())
	require.NoError(t, c.Ensure(context.Background()))
	ts.next(t)

	assert.True(t, c.IsOpen())
	assert.Equal(t, status.Open, c.State())
	ts.mu.Lock()
	assert.Equal(t, []string{"Bearer secret"}, ts.auth)
	ts.mu.Unlock()

	// Already open: no second dial.
	require.NoError(t, c.Ensure(context.Background()))
	select {
	case <-ts.conns:
		t.Fatal("unexpected second dial")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	ts := newTestServer(t)
	rec := &recorder{}
	c := newChatConn(t, ts.wsURL(), rec, nil)
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
		require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := server.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"PONG"}`, string(data))
	}
	assert.Empty(t, rec.snapshot(), "PING must not reach the handler")
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	ts := newTestServer(t)
	rec := &recorder{}
	c := newChatConn(t, ts.wsURL(), rec, nil)
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"SUCCESS"}`)))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.IsType(t, protocol.SuccessFrame{}, rec.snapshot()[0])
	assert.True(t, c.IsOpen(), "malformed frame must not close the socket")
}

func TestFramesAreHandledInOrder(t *testing.T) {
	ts := newTestServer(t)
	rec := &recorder{}
	c := newChatConn(t, ts.wsURL(), rec, nil)
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	for _, s := range []string{"A", "B", "C"} {
		frame := `{"type":"MESSAGE","senderId":2,"messageContent":"` + s + `","sentDate":[2024,1,2,3,4,5]}`
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(frame)))
	}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)

	var got []string
	for _, f := range rec.snapshot() {
		got = append(got, f.(protocol.MessageFrame).MessageContent)
	}
	assert.Equal(t, []string{"A", "B", "C"}, got)
}

func TestSendWritesWhenOpen(t *testing.T) {
	ts := newTestServer(t)
	c := newChatConn(t, ts.wsURL(), nil, nil)
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	require.True(t, c.Send(protocol.NewOutgoingMessage(2, "hello")))
	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"MESSAGE","recipientId":2,"message":"hello"}`, string(data))
}

func TestSendWhenClosedReconnectsInBackground(t *testing.T) {
	ts := newTestServer(t)
	c := newChatConn(t, ts.wsURL(), nil, nil)

	assert.False(t, c.Send(protocol.NewOutgoingMessage(2, "hello")))
	server := ts.next(t)
	require.Eventually(t, c.IsOpen, 2*time.Second, 10*time.Millisecond)

	// Nothing was written by the failed send.
	require.NoError(t, server.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := server.ReadMessage()
	assert.Error(t, err)
}

func TestServerCloseClearsReference(t *testing.T) {
	ts := newTestServer(t)
	c := newChatConn(t, ts.wsURL(), nil, nil)
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool { return !c.IsOpen() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, status.Disconnected, c.State())

	// Next use dials a fresh socket.
	require.NoError(t, c.Ensure(context.Background()))
	ts.next(t)
	assert.True(t, c.IsOpen())
}

func TestOversizedFrameDropsSocket(t *testing.T) {
	ts := newTestServer(t)
	rec := &recorder{}
	c := New(Options[protocol.ChatFrame]{
		Channel:   "chat",
		URL:       ts.wsURL(),
		Decode:    protocol.DecodeChat,
		Handle:    rec.handle,
		ReadLimit: 64,
	})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	big := `{"type":"PING","pad":"` + strings.Repeat("x", 256) + `"}`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(big)))
	require.Eventually(t, func() bool { return !c.IsOpen() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, status.Disconnected, c.State())
	assert.Empty(t, rec.snapshot())

	// The connection heals on next use.
	require.NoError(t, c.Ensure(context.Background()))
	ts.next(t)
	assert.True(t, c.IsOpen())
}

func TestStaleReaderDoesNotClearFreshSocket(t *testing.T) {
	ts := newTestServer(t)
	c := newChatConn(t, ts.wsURL(), nil, nil)
	require.NoError(t, c.Ensure(context.Background()))
	ts.next(t)

	c.DropCurrent()
	require.NoError(t, c.Ensure(context.Background()))
	ts.next(t)

	assert.Never(t, func() bool { return !c.IsOpen() }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestStateEventsFollowLifecycle(t *testing.T) {
	ts := newTestServer(t)
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 16)
	defer unsub()

	c := newChatConn(t, ts.wsURL(), nil, b)
	require.NoError(t, c.Ensure(context.Background()))
	ts.next(t)
	c.DropCurrent()

	want := []status.State{status.Connecting, status.Open, status.Closed, status.Disconnected}
	for _, st := range want {
		select {
		case evt := <-ch:
			change := evt.Payload.(status.StatusChange)
			assert.Equal(t, "chat", change.Channel)
			assert.Equal(t, st, change.To)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", st)
		}
	}
}

func TestDialFailureReturnsToDisconnected(t *testing.T) {
	c := newChatConn(t, "ws://127.0.0.1:1/unreachable", nil, nil)
	err := c.Ensure(context.Background())
	require.Error(t, err)
	assert.False(t, c.IsOpen())
	assert.Equal(t, status.Disconnected, c.State())
}

func TestDialsAreThrottled(t *testing.T) {
	c := New(Options[protocol.ChatFrame]{
		Channel:           "chat",
		URL:               "ws://127.0.0.1:1/unreachable",
		Decode:            protocol.DecodeChat,
		ReconnectInterval: time.Hour,
	})
	defer func() { _ = c.Close() }()

	require.Error(t, c.Ensure(context.Background()))
	assert.ErrorIs(t, c.Ensure(context.Background()), ErrThrottled)
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c := newChatConn(t, ts.wsURL(), nil, nil)
	require.NoError(t, c.Ensure(context.Background()))
	server := ts.next(t)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Ensure(context.Background()), ErrClosed)
	assert.False(t, c.Send(protocol.NewPong()))

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
