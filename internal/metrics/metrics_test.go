package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSettlement(t *testing.T) {
	m := New()
	m.ObserveSettlement("applied", "", 1000, time.Millisecond)
	m.ObserveSettlement("applied", "", 500, time.Millisecond)
	m.ObserveSettlement("rejected", "zero_amount", 0, time.Millisecond)

	if got := testutil.ToFloat64(m.Settlements.WithLabelValues("applied", "")); got != 2 {
		t.Errorf("applied = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Settlements.WithLabelValues("rejected", "zero_amount")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SettledAmount); got != 1500 {
		t.Errorf("settled amount = %v, want 1500", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSettlement("applied", "", 1, time.Second)
	m.ObserveDelivery("nats", "ack")
	m.ObserveSnapshot(errors.New("x"), 0)
	m.ObserveHTTP("GET", "/", 200, time.Second)
	m.SetEVMCursor(1)
	m.ObserveMarketInitialized()
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveHTTP("GET", "GET /api/health", 204, time.Millisecond)
	m.ObserveSnapshot(nil, 2048)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`xbet_http_requests_total{method="GET",route="GET /api/health",status="2xx"} 1`,
		`xbet_snapshot_size_bytes 2048`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 304: "3xx", 404: "4xx", 422: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %s, want %s", code, got, want)
		}
	}
}
