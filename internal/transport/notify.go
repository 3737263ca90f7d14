package transport

import (
	"context"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/wsconn"
	"go.uber.org/zap"
)

// NotifyHandler receives notification channel frames.
type NotifyHandler interface {
	HandleUnreadCount(f protocol.UnreadCountFrame)
	HandleMessageNotification(f protocol.MessageNotificationFrame)
	HandleEvent(f protocol.EventFrame)
}

// Notify is the notification transport channel. It never touches the
// message store.
type Notify struct {
	conn    *wsconn.Conn[protocol.NotifyFrame]
	handler NotifyHandler
	logger  *zap.Logger
}

func NewNotify(cfg Config, h NotifyHandler, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Notify {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notify{handler: h, logger: logger.With(zap.String("channel", ChannelNotify))}
	n.conn = wsconn.New(connOptions(ChannelNotify, cfg, protocol.DecodeNotify, n.dispatch, b, m, logger))
	return n
}

// Open dials the notification socket if it is not open.
func (n *Notify) Open(ctx context.Context) error {
	return n.conn.Ensure(ctx)
}

func (n *Notify) IsOpen() bool         { return n.conn.IsOpen() }
func (n *Notify) State() status.State { return n.conn.State() }

func (n *Notify) Close() error {
	return n.conn.Close()
}

func (n *Notify) dispatch(frame protocol.NotifyFrame) {
	switch f := frame.(type) {
	case protocol.UnreadCountFrame:
		n.handler.HandleUnreadCount(f)
	case protocol.MessageNotificationFrame:
		n.handler.HandleMessageNotification(f)
	case protocol.EventFrame:
		n.handler.HandleEvent(f)
	case protocol.AuthenticatedFrame:
		n.logger.Info("authenticated", zap.Int64("user_id", f.UserID))
	case protocol.AuthFailedFrame:
		n.logger.Warn("authentication rejected, dropping socket", zap.String("reason", f.Reason))
		n.conn.DropCurrent()
	case protocol.UnknownFrame:
		n.logger.Debug("ignoring frame", zap.String("type", f.Type))
	}
}
