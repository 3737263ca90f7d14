package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter mirrors channel connection states into a gRPC health
// server. The empty service name reports the process itself; "chat" and
// "notify" are SERVING only while their socket is OPEN.
type HealthReporter struct {
	srv    *health.Server
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthReporter creates a reporter with both channels NOT_SERVING.
func NewHealthReporter(b *bus.Bus, logger *zap.Logger) *HealthReporter {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(transport.ChannelChat, healthpb.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(transport.ChannelNotify, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{srv: srv, bus: b, logger: logger}
}

// Server returns the underlying health service implementation.
func (h *HealthReporter) Server() *health.Server {
	return h.srv
}

// Start follows connection state events until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	ch, unsub := h.bus.Subscribe(bus.KindConnStateChanged, 16)
	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok {
					continue
				}
				h.apply(change)
			}
		}
	}()
}

func (h *HealthReporter) apply(change status.StatusChange) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if change.To == status.Open {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus(change.Channel, st)
	h.logger.Debug("channel health",
		zap.String("channel", change.Channel),
		zap.String("status", st.String()),
	)
}

// Stop ends event processing and marks every service NOT_SERVING.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	h.srv.Shutdown()
}
