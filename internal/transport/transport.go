// Package transport provides the chat and notification channels. Each owns
// its own heartbeat connection; they share no socket and fail independently.
package transport

import (
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/wsconn"
	"go.uber.org/zap"
)

// Channel names used in logs, metrics, state events and health checks.
const (
	ChannelChat   = "chat"
	ChannelNotify = "notify"
)

// Config holds the connection settings of one channel.
type Config struct {
	URL               string
	Token             string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
}

func connOptions[F protocol.Frame](channel string, cfg Config, decode func([]byte) (F, error), handle func(F), b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) wsconn.Options[F] {
	return wsconn.Options[F]{
		Channel:           channel,
		URL:               cfg.URL,
		Token:             cfg.Token,
		Decode:            decode,
		Handle:            handle,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		ReconnectInterval: cfg.ReconnectInterval,
		Bus:               b,
		Metrics:           m,
		Logger:            logger,
	}
}
