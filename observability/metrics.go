package observability

import (
	"fmt"
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

	packMetricsOnce sync.Once
	packRegistry    *PackMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "packchain",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
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

// Observe records the outcome of a JSON-RPC request. code is the JSON-RPC
// error code, or zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// PackMetrics captures ledger activity for the mystery pack program.
type PackMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	packsSold  prometheus.Counter
	minted     prometheus.Counter
	withdrawn  prometheus.Counter
	indexer    *prometheus.CounterVec
}

// Pack returns the lazily-initialised mystery pack metrics registry.
func Pack() *PackMetrics {
	packMetricsOnce.Do(func() {
		packRegistry = &PackMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Transactions applied segmented by type and outcome.",
			}, []string{"type", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "packchain",
				Subsystem: "ledger",
				Name:      "transaction_duration_seconds",
				Help:      "Latency distribution for transaction application.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"type"}),
			packsSold: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "mysterypack",
				Name:      "packs_sold_total",
				Help:      "Packs sold across all campaigns.",
			}),
			minted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "mysterypack",
				Name:      "reward_units_minted_total",
				Help:      "Reward asset units minted by successful claims.",
			}),
			withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "mysterypack",
				Name:      "proceeds_withdrawn_total",
				Help:      "Native units withdrawn from campaign vaults.",
			}),
			indexer: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "packchain",
				Subsystem: "indexer",
				Name:      "failures_total",
				Help:      "Events the indexer failed to project, segmented by event type.",
			}, []string{"event"}),
		}
		prometheus.MustRegister(
			packRegistry.operations,
			packRegistry.latency,
			packRegistry.packsSold,
			packRegistry.minted,
			packRegistry.withdrawn,
			packRegistry.indexer,
		)
	})
	return packRegistry
}

// ObserveTransaction records the outcome and latency of one transaction.
func (m *PackMetrics) ObserveTransaction(txType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(txType, outcome).Inc()
	m.latency.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordPackSold increments the sold pack counter.
func (m *PackMetrics) RecordPackSold() {
	if m == nil {
		return
	}
	m.packsSold.Inc()
}

// RecordMinted adds claimed reward units.
func (m *PackMetrics) RecordMinted(amount uint64) {
	if m == nil {
		return
	}
	m.minted.Add(float64(amount))
}

// RecordWithdrawn adds withdrawn vault proceeds.
func (m *PackMetrics) RecordWithdrawn(amount uint64) {
	if m == nil {
		return
	}
	m.withdrawn.Add(float64(amount))
}

// RecordIndexerFailure counts an event the indexer could not project.
func (m *PackMetrics) RecordIndexerFailure(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.indexer.WithLabelValues(eventType).Inc()
}
