package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer exposes the Prometheus registry over HTTP.
type MetricsServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewMetricsServer binds the profile's metrics address. It returns nil when
// no address is configured.
func NewMetricsServer(p Params, m *metrics.Metrics, logger *zap.Logger) (*MetricsServer, error) {
	addr := p.Settings.MetricsAddr
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *MetricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until Stop. Blocks.
func (s *MetricsServer) Start() error {
	s.logger.Info("metrics server starting", zap.String("addr", s.Addr()))
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
