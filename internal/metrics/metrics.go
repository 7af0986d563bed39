// Package metrics holds the Prometheus instruments for the settlement
// service. Each Metrics owns its registry so tests can build as many as they
// need.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xbet"

// Metrics groups every instrument.
type Metrics struct {
	registry *prometheus.Registry

	// Settlement
	Settlements        *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	SettledAmount      prometheus.Counter
	MarketsInitialized prometheus.Counter

	// Relay
	Deliveries *prometheus.CounterVec
	EVMCursor  prometheus.Gauge

	// Snapshot
	Snapshots     *prometheus.CounterVec
	SnapshotBytes prometheus.Gauge

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers every instrument on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by final state and rejection kind.",
		}, []string{"state", "kind"}),
		SettlementDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from delivery to commit, lock wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"state"}),
		SettledAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_amount_total",
			Help:      "Sum of applied amounts in base units.",
		}),
		MarketsInitialized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markets_initialized_total",
			Help:      "Markets created.",
		}),

		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_deliveries_total",
			Help:      "Relay deliveries by source and disposition (ack, nak, term).",
		}, []string{"source", "disposition"}),
		EVMCursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_evm_cursor_block",
			Help:      "Last origin-chain block fully processed by the watcher.",
		}),

		Snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot exports by result.",
		}, []string{"result"}),
		SnapshotBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_size_bytes",
			Help:      "Size of the last exported snapshot.",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSettlement records one settlement attempt. A nil Metrics is a
// no-op so callers need not guard.
func (m *Metrics) ObserveSettlement(state, kind string, amount uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(state, kind).Inc()
	m.SettlementDuration.WithLabelValues(state).Observe(elapsed.Seconds())
	if state == "applied" {
		m.SettledAmount.Add(float64(amount))
	}
}

// ObserveDelivery records how a relay disposed of one delivery.
func (m *Metrics) ObserveDelivery(source, disposition string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(source, disposition).Inc()
}

// ObserveMarketInitialized counts a created market.
func (m *Metrics) ObserveMarketInitialized() {
	if m == nil {
		return
	}
	m.MarketsInitialized.Inc()
}

// SetEVMCursor records watcher progress.
func (m *Metrics) SetEVMCursor(block uint64) {
	if m == nil {
		return
	}
	m.EVMCursor.Set(float64(block))
}

// ObserveSnapshot records an export; size is ignored on failure.
func (m *Metrics) ObserveSnapshot(err error, size int) {
	if m == nil {
		return
	}
	if err != nil {
		m.Snapshots.WithLabelValues("error").Inc()
		return
	}
	m.Snapshots.WithLabelValues("ok").Inc()
	m.SnapshotBytes.Set(float64(size))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
