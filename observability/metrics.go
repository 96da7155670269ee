package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// HTTP returns the lazily-initialised registry recording API activity.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "http",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.errors,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *httpMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// LendingMetrics tracks engine operations and pool balances.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	deposited  *prometheus.GaugeVec
	borrowed   *prometheus.GaugeVec
	events     *prometheus.CounterVec
	streams    prometheus.Gauge
}

// Lending returns the singleton lending metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Engine operations segmented by operation, asset and result code.",
			}, []string{"operation", "asset", "result"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendpool",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			deposited: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "total_deposited",
				Help:      "Total deposited per pool after the last committed operation.",
			}, []string{"asset"}),
			borrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "pool",
				Name:      "total_borrowed",
				Help:      "Total borrowed per pool after the last committed operation.",
			}, []string{"asset"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendpool",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of lending events segmented by type and asset.",
			}, []string{"type", "asset"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendpool",
				Subsystem: "events",
				Name:      "stream_subscribers",
				Help:      "Number of connected event stream subscribers.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.deposited,
			lendingRegistry.borrowed,
			lendingRegistry.events,
			lendingRegistry.streams,
		)
	})
	return lendingRegistry
}

// ObserveOperation records an engine call. result is "ok" or the error code.
func (m *LendingMetrics) ObserveOperation(operation, asset, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(operation, asset, result).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPoolTotals publishes the pool aggregates. Values beyond float64
// precision are approximated.
func (m *LendingMetrics) SetPoolTotals(asset string, deposited, borrowed float64) {
	if m == nil {
		return
	}
	m.deposited.WithLabelValues(asset).Set(deposited)
	m.borrowed.WithLabelValues(asset).Set(borrowed)
}

// StreamOpened and StreamClosed track websocket subscribers.
func (m *LendingMetrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *LendingMetrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}
