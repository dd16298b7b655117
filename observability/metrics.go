package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record RPC
// module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phusd",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phusd",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "phusd",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phusd",
				Subsystem: "module",
				Name:      "throttled_total",
				Help:      "Requests rejected by rate limiting, segmented by module and reason.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records one handled request with its status and duration.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOrUnknown(module)
	method = labelOrUnknown(method)
	outcome := "ok"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, statusLabel(status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle counts a rate-limited request.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelOrUnknown(module), labelOrUnknown(reason)).Inc()
}

// KeeperMetrics tracks the autonomous claim keeper's settlement loop.
type KeeperMetrics struct {
	attempts   *prometheus.CounterVec
	paid       prometheus.Counter
	projection prometheus.Gauge
	errors     *prometheus.CounterVec
}

// Keeper returns the lazily-initialised keeper metrics registry.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phusd",
				Subsystem: "keeper",
				Name:      "claim_attempts_total",
				Help:      "Claim attempts by the keeper loop, segmented by outcome.",
			}, []string{"outcome"}),
			paid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "phusd",
				Subsystem: "keeper",
				Name:      "claim_paid_wei_total",
				Help:      "Cumulative phUSD paid out by keeper-settled claims.",
			}),
			projection: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "phusd",
				Subsystem: "keeper",
				Name:      "projected_claim_wei",
				Help:      "Most recent projected claim amount observed by the keeper.",
			}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "phusd",
				Subsystem: "keeper",
				Name:      "errors_total",
				Help:      "Keeper loop failures segmented by stage.",
			}, []string{"stage"}),
		}
		prometheus.MustRegister(
			keeperRegistry.attempts,
			keeperRegistry.paid,
			keeperRegistry.projection,
			keeperRegistry.errors,
		)
	})
	return keeperRegistry
}

// RecordAttempt counts one keeper claim attempt.
func (m *KeeperMetrics) RecordAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

// RecordPaid adds a settled claim amount to the payout counter.
func (m *KeeperMetrics) RecordPaid(amount *big.Int) {
	if m == nil {
		return
	}
	m.paid.Add(bigToFloat(amount))
}

// SetProjection records the latest projected claim amount.
func (m *KeeperMetrics) SetProjection(amount *big.Int) {
	if m == nil {
		return
	}
	m.projection.Set(bigToFloat(amount))
}

// RecordError counts a keeper failure at the given stage.
func (m *KeeperMetrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(labelOrUnknown(stage)).Inc()
}

func labelOrUnknown(label string) string {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return "unknown"
	}
	return label
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
