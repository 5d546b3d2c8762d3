package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Inc(SessionsConnected)
	if m.Get(SessionsConnected) != 0 {
		t.Fatal("nil metrics returned nonzero count")
	}
	if m.Snapshot() != nil {
		t.Fatal("nil metrics returned non-nil snapshot")
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(SessionsConnected)
	m.Inc(SessionsConnected)
	m.Inc(OffersThrottled)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `meetlite_signaling_events_total{event="sessions_connected"} 2`) {
		t.Fatalf("missing sessions counter in:\n%s", body)
	}
	if !strings.Contains(body, `meetlite_signaling_events_total{event="offers_throttled"} 1`) {
		t.Fatalf("missing throttle counter in:\n%s", body)
	}
	if !strings.HasPrefix(body, "# HELP meetlite_signaling_events_total") {
		t.Fatalf("missing HELP line in:\n%s", body)
	}
}
