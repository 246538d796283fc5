package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	liquidity  prometheus.Gauge
	borrowed   prometheus.Gauge
	claimed    *prometheus.CounterVec
}

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// Ledger returns the lazily-initialised registry tracking serialized ledger
// operations.
func Ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwacredit",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome class.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rwacredit",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for committed and rolled back ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			liquidity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rwacredit",
				Subsystem: "pool",
				Name:      "liquidity_usd",
				Help:      "Total pool liquidity in whole USD.",
			}),
			borrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rwacredit",
				Subsystem: "pool",
				Name:      "borrowed_usd",
				Help:      "Outstanding pool principal in whole USD.",
			}),
			claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwacredit",
				Subsystem: "yield",
				Name:      "claims_total",
				Help:      "Burn-to-claim payouts segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.liquidity,
			ledgerRegistry.borrowed,
			ledgerRegistry.claimed,
		)
	})
	return ledgerRegistry
}

// Observe records the outcome of a ledger operation. An empty outcome means
// the operation committed.
func (m *ledgerMetrics) Observe(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "committed"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPool publishes the pool counters. Amounts are 6-decimal base units.
func (m *ledgerMetrics) SetPool(liquidity, borrowed *big.Int) {
	if m == nil {
		return
	}
	m.liquidity.Set(usdFloat(liquidity))
	m.borrowed.Set(usdFloat(borrowed))
}

// RecordClaim increments the claim counter for the supplied asset.
func (m *ledgerMetrics) RecordClaim(asset string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.claimed.WithLabelValues(normalized).Inc()
}

// HTTP returns the lazily-initialised registry for the API surface.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwacredit",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and status class.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rwacredit",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rwacredit",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a completed HTTP request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
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

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var usdScale = new(big.Float).SetInt64(1_000_000)

func usdFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), usdScale).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
