package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersByLabel(t *testing.T) {
	m := New()
	m.SendCompleted("push", "not_read")
	m.SendCompleted("rest", "failed")
	m.SendCompleted("rest", "failed")
	m.FrameReceived("chat", "PING")
	m.FrameMalformed("notify")
	m.DialAttempt("chat", nil)
	m.DialAttempt("chat", errors.New("refused"))
	m.RESTCall("send_message", nil)
	m.StaleFetchDiscarded()

	if got := testutil.ToFloat64(m.sendsTotal.WithLabelValues("rest", "failed")); got != 2 {
		t.Errorf("rest/failed sends = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.sendsTotal.WithLabelValues("push", "not_read")); got != 1 {
		t.Errorf("push/not_read sends = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dialsTotal.WithLabelValues("chat", "error")); got != 1 {
		t.Errorf("failed dials = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.staleFetchesTotal); got != 1 {
		t.Errorf("stale fetches = %v, want 1", got)
	}
}

func TestConnOpenGauge(t *testing.T) {
	m := New()
	m.SetConnOpen("chat", true)
	if got := testutil.ToFloat64(m.connOpen.WithLabelValues("chat")); got != 1 {
		t.Errorf("open = %v, want 1", got)
	}
	m.SetConnOpen("chat", false)
	if got := testutil.ToFloat64(m.connOpen.WithLabelValues("chat")); got != 0 {
		t.Errorf("open = %v, want 0", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SendCompleted("push", "not_read")
	m.FrameReceived("chat", "MESSAGE")
	m.FrameMalformed("chat")
	m.DialAttempt("chat", nil)
	m.SetConnOpen("chat", true)
	m.RESTCall("x", nil)
	m.StaleFetchDiscarded()
	m.SetNotifyUnread(3)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetNotifyUnread(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatsync_notify_unread 4") {
		t.Error("exposition missing chatsync_notify_unread")
	}
}
