package transport

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/wsconn"
	"go.uber.org/zap"
)

// ChatHandler receives the chat frames that affect the store.
type ChatHandler interface {
	HandleMessage(f protocol.MessageFrame)
	HandleConversationRead(f protocol.ConversationReadFrame)
}

// Chat is the chat transport channel.
type Chat struct {
	conn    *wsconn.Conn[protocol.ChatFrame]
	handler ChatHandler
	logger  *zap.Logger
}

// NewChat creates the chat channel. Nothing is dialed until Open or
// SendMessage is called.
func NewChat(cfg Config, h ChatHandler, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Chat {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chat{handler: h, logger: logger.With(zap.String("channel", ChannelChat))}
	c.conn = wsconn.New(connOptions(ChannelChat, cfg, protocol.DecodeChat, c.dispatch, b, m, logger))
	return c
}

// Open dials the chat socket if it is not open.
func (c *Chat) Open(ctx context.Context) error {
	return c.conn.Ensure(ctx)
}

// SendMessage writes a MESSAGE frame to peerID and reports whether the push
// path accepted it. On false nothing was transmitted; choosing another path
// is the caller's job.
func (c *Chat) SendMessage(peerID store.UserID, text string) bool {
	return c.conn.Send(protocol.NewOutgoingMessage(int64(peerID), text))
}

func (c *Chat) IsOpen() bool         { return c.conn.IsOpen() }
func (c *Chat) State() status.State { return c.conn.State() }

// Close tears the channel down for good.
func (c *Chat) Close() error {
	return c.conn.Close()
}

func (c *Chat) dispatch(frame protocol.ChatFrame) {
	switch f := frame.(type) {
	case protocol.MessageFrame:
		c.handler.HandleMessage(f)
	case protocol.ConversationReadFrame:
		c.handler.HandleConversationRead(f)
	case protocol.AuthenticatedFrame:
		c.logger.Info("authenticated", zap.Int64("user_id", f.UserID))
	case protocol.AuthFailedFrame:
		c.logger.Warn("authentication rejected, dropping socket", zap.String("reason", f.Reason))
		c.conn.DropCurrent()
	case protocol.SuccessFrame:
		c.logger.Debug("server ack", zap.String("message", f.Message))
	case protocol.UnknownFrame:
		c.logger.Debug("ignoring frame", zap.String("type", f.Type))
	}
}
