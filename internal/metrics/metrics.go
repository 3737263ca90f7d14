// Package metrics exposes Prometheus collectors for the sync core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one session. All methods are safe on a
// nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sendsTotal        *prometheus.CounterVec
	framesTotal       *prometheus.CounterVec
	malformedTotal    *prometheus.CounterVec
	dialsTotal        *prometheus.CounterVec
	connOpen          *prometheus.GaugeVec
	restCallsTotal    *prometheus.CounterVec
	staleFetchesTotal prometheus.Counter
	notifyUnread      prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_sends_total",
				Help: "Completed send orchestrations by path and final message status.",
			},
			[]string{"path", "status"},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_frames_received_total",
				Help: "Inbound frames decoded per channel and frame type.",
			},
			[]string{"channel", "type"},
		),
		malformedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_frames_malformed_total",
				Help: "Inbound frames dropped because they could not be decoded.",
			},
			[]string{"channel"},
		),
		dialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_dials_total",
				Help: "WebSocket dial attempts per channel and result.",
			},
			[]string{"channel", "result"},
		),
		connOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chatsync_connection_open",
				Help: "1 while the channel's socket is open, 0 otherwise.",
			},
			[]string{"channel"},
		),
		restCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_rest_calls_total",
				Help: "REST collaborator calls per operation and result.",
			},
			[]string{"op", "result"},
		),
		staleFetchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_stale_fetches_total",
				Help: "History fetches discarded because the selection changed while in flight.",
			},
		),
		notifyUnread: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_notify_unread",
				Help: "Aggregate unread count last reported by the notification channel.",
			},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sendsTotal,
		m.framesTotal,
		m.malformedTotal,
		m.dialsTotal,
		m.connOpen,
		m.restCallsTotal,
		m.staleFetchesTotal,
		m.notifyUnread,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SendCompleted records the end of one send orchestration.
func (m *Metrics) SendCompleted(path, status string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(path, status).Inc()
}

func (m *Metrics) FrameReceived(channel, frameType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(channel, frameType).Inc()
}

func (m *Metrics) FrameMalformed(channel string) {
	if m == nil {
		return
	}
	m.malformedTotal.WithLabelValues(channel).Inc()
}

// DialAttempt records a dial and its outcome.
func (m *Metrics) DialAttempt(channel string, err error) {
	if m == nil {
		return
	}
	m.dialsTotal.WithLabelValues(channel, result(err)).Inc()
}

func (m *Metrics) SetConnOpen(channel string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.connOpen.WithLabelValues(channel).Set(v)
}

// RESTCall records one REST collaborator call after retries.
func (m *Metrics) RESTCall(op string, err error) {
	if m == nil {
		return
	}
	m.restCallsTotal.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) StaleFetchDiscarded() {
	if m == nil {
		return
	}
	m.staleFetchesTotal.Inc()
}

func (m *Metrics) SetNotifyUnread(n int) {
	if m == nil {
		return
	}
	m.notifyUnread.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
