// Package wsconn implements the heartbeat WebSocket connection shared by the
// chat and notification channels.
//
// A Conn holds at most one socket. It answers every server PING with a PONG
// on the same socket and hands every other decoded frame to its handler, one
// at a time, in arrival order. There is no reconnect timer: when the socket
// drops, the held reference is cleared and the next use dials again.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("connection closed")
	// ErrThrottled is returned when a dial is attempted too soon after the last one.
	ErrThrottled = errors.New("dial throttled")
	// ErrConnecting is returned while another dial is in flight.
	ErrConnecting = errors.New("dial already in progress")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 1 << 20
)

// Options configures a Conn.
type Options[F protocol.Frame] struct {
	// Channel names the connection in logs, metrics and state events.
	Channel string
	URL     string
	// Token is sent as a bearer Authorization header on every dial.
	Token string

	Decode func(data []byte) (F, error)
	Handle func(F)

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReconnectInterval is the minimum spacing between dial attempts.
	// Zero disables throttling.
	ReconnectInterval time.Duration
	// ReadLimit caps the size of an inbound frame in bytes. A larger frame
	// drops the socket. Defaults to 1 MiB.
	ReadLimit int64

	Bus     *bus.Bus
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type socket struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (s *socket) writeJSON(v any, timeout time.Duration) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return s.ws.WriteJSON(v)
}

// Conn is a lazily dialed, self-healing WebSocket parameterized by the
// frame vocabulary of its channel.
type Conn[F protocol.Frame] struct {
	opts    Options[F]
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	machine *status.Machine
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *socket
	dialing bool
	closed  bool
}

// New creates a Conn in the DISCONNECTED state. Nothing is dialed until
// Ensure or Send is called.
func New[F protocol.Frame](opts Options[F]) *Conn[F] {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.Handle == nil {
		opts.Handle = func(F) {}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.ReconnectInterval > 0 {
		limit = rate.Every(opts.ReconnectInterval)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn[F]{
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		limiter: rate.NewLimiter(limit, 1),
		machine: status.NewMachine(opts.Channel, opts.Bus),
		logger:  logger.With(zap.String("channel", opts.Channel)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the connection lifecycle state.
func (c *Conn[F]) State() status.State {
	return c.machine.Current()
}

// IsOpen reports whether a socket is currently held.
func (c *Conn[F]) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Ensure dials if no socket is held. It returns nil when a socket is open
// on return.
func (c *Conn[F]) Ensure(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.current != nil:
		c.mu.Unlock()
		return nil
	case c.dialing:
		c.mu.Unlock()
		return ErrConnecting
	case !c.limiter.Allow():
		c.mu.Unlock()
		return ErrThrottled
	}
	c.dialing = true
	c.setState(status.Connecting)
	c.mu.Unlock()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ws, resp, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c.opts.Metrics.DialAttempt(c.opts.Channel, err)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialing = false
	if err != nil {
		c.setState(status.Closed)
		c.setState(status.Disconnected)
		c.logger.Warn("dial failed", zap.Error(err))
		return fmt.Errorf("dial %s: %w", c.opts.Channel, err)
	}
	if c.closed {
		_ = ws.Close()
		c.setState(status.Closed)
		c.setState(status.Disconnected)
		return ErrClosed
	}

	ws.SetReadLimit(c.opts.ReadLimit)
	sock := &socket{ws: ws}
	c.current = sock
	c.setState(status.Open)
	c.opts.Metrics.SetConnOpen(c.opts.Channel, true)
	c.logger.Info("connection open")

	c.wg.Add(1)
	go c.readLoop(sock)
	return nil
}

// Send writes v as a JSON text frame on the open socket and reports whether
// it was written. When no socket is open nothing is written, false is
// returned and a dial is started in the background so the next use finds
// the channel open.
func (c *Conn[F]) Send(v any) bool {
	c.mu.Lock()
	sock := c.current
	c.mu.Unlock()

	if sock == nil {
		c.reconnectInBackground()
		return false
	}
	if err := sock.writeJSON(v, c.opts.WriteTimeout); err != nil {
		c.logger.Warn("write failed", zap.Error(err))
		c.drop(sock, err)
		return false
	}
	return true
}

// DropCurrent closes the held socket, if any. The Conn stays usable; the
// next use dials a fresh socket.
func (c *Conn[F]) DropCurrent() {
	c.mu.Lock()
	sock := c.current
	c.mu.Unlock()
	if sock != nil {
		c.drop(sock, nil)
	}
}

// Close closes the held socket and stops every goroutine the Conn started.
// It is idempotent; a closed Conn never dials again.
func (c *Conn[F]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.current
	c.current = nil
	if sock != nil {
		c.setState(status.Closed)
		c.setState(status.Disconnected)
		c.opts.Metrics.SetConnOpen(c.opts.Channel, false)
	}
	c.mu.Unlock()

	c.cancel()
	if sock != nil {
		sock.wmu.Lock()
		_ = sock.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		sock.wmu.Unlock()
		_ = sock.ws.Close()
	}
	c.wg.Wait()
	c.logger.Info("connection closed")
	return nil
}

func (c *Conn[F]) reconnectInBackground() {
	c.mu.Lock()
	if c.closed || c.dialing {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
		defer cancel()
		if err := c.Ensure(ctx); err != nil {
			c.logger.Debug("background reconnect", zap.Error(err))
		}
	}()
}

func (c *Conn[F]) readLoop(sock *socket) {
	defer c.wg.Done()
	for {
		_, data, err := sock.ws.ReadMessage()
		if err != nil {
			c.drop(sock, err)
			return
		}
		frame, err := c.opts.Decode(data)
		if err != nil {
			c.opts.Metrics.FrameMalformed(c.opts.Channel)
			c.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		c.opts.Metrics.FrameReceived(c.opts.Channel, frame.FrameType())
		if protocol.IsPing(frame) {
			if err := sock.writeJSON(protocol.NewPong(), c.opts.WriteTimeout); err != nil {
				c.logger.Warn("pong failed", zap.Error(err))
				c.drop(sock, err)
				return
			}
			continue
		}
		c.opts.Handle(frame)
	}
}

// drop closes sock and, if it is still the held socket, clears the
// reference. A reader of an older socket never clears a newer one.
func (c *Conn[F]) drop(sock *socket, cause error) {
	c.mu.Lock()
	wasCurrent := c.current == sock
	if wasCurrent {
		c.current = nil
		c.setState(status.Closed)
		c.setState(status.Disconnected)
		c.opts.Metrics.SetConnOpen(c.opts.Channel, false)
	}
	c.mu.Unlock()

	_ = sock.ws.Close()
	if wasCurrent {
		c.logger.Info("connection dropped", zap.Error(cause))
	}
}

// setState must be called with c.mu held.
func (c *Conn[F]) setState(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Warn("state transition", zap.Error(err))
	}
}
