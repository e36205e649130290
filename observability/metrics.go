package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fluxpay"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
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

// Observe records the outcome of a JSON-RPC call. errCode is zero on success.
func (m *moduleMetrics) Observe(module, method string, errCode int, duration time.Duration) {
	if m == nil {
		return
	}
	module = labelOrUnknown(module)
	method = labelOrUnknown(method)
	outcome := "success"
	if errCode != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", errCode)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(labelOrUnknown(module), reason).Inc()
}

// LedgerMetrics tracks transaction execution and allowance value flows.
type LedgerMetrics struct {
	transactions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	withdrawn    prometheus.Counter
	reclaimed    prometheus.Counter
	height       prometheus.Gauge
}

// Ledger returns the singleton metrics registry for the ledger runtime.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Transactions applied segmented by type and outcome. Program failures use the error name as outcome.",
			}, []string{"type", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "apply_duration_seconds",
				Help:      "Latency distribution for transaction execution and commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "allowance",
				Name:      "withdrawn_lamports_total",
				Help:      "Lamports withdrawn by recipients from allowances.",
			}),
			reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "allowance",
				Name:      "reclaimed_lamports_total",
				Help:      "Lamports returned to givers when allowances close.",
			}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "height",
				Help:      "Height of the last committed transaction.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.transactions,
			ledgerRegistry.latency,
			ledgerRegistry.withdrawn,
			ledgerRegistry.reclaimed,
			ledgerRegistry.height,
		)
	})
	return ledgerRegistry
}

// ObserveTransaction records a transaction outcome. outcome is "success",
// "rejected" or a program error name.
func (m *LedgerMetrics) ObserveTransaction(txType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	txType = labelOrUnknown(txType)
	m.transactions.WithLabelValues(txType, labelOrUnknown(outcome)).Inc()
	m.latency.WithLabelValues(txType).Observe(duration.Seconds())
}

func (m *LedgerMetrics) AddWithdrawn(amount uint64) {
	if m == nil {
		return
	}
	m.withdrawn.Add(float64(amount))
}

func (m *LedgerMetrics) AddReclaimed(amount uint64) {
	if m == nil {
		return
	}
	m.reclaimed.Add(float64(amount))
}

func (m *LedgerMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func labelOrUnknown(v string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return "unknown"
}
