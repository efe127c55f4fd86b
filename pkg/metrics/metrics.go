// Package metrics exposes inventory counters and expiry gauges on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "branchpos_inventory"

// Outcomes recorded against stock mutations
const (
	OutcomeApplied  = "applied"
	OutcomeClamped  = "clamped"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds the service collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	mutations      *prometheus.CounterVec
	mutationTime   *prometheus.HistogramVec
	scans          *prometheus.CounterVec
	commitRows     *prometheus.CounterVec
	expiryItems    *prometheus.GaugeVec
	expiryValue    *prometheus.GaugeVec
	cacheLookups   *prometheus.CounterVec
	salesProcessed *prometheus.CounterVec
}

// New builds the collectors and registers them with a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_mutations_total",
			Help:      "Ledger mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		mutationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stock_mutation_duration_seconds",
			Help:      "Time spent applying a ledger mutation including persistence",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_events_total",
			Help:      "Scan events by how they landed in the stock-entry grid",
		}, []string{"result"}),
		commitRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_commit_rows_total",
			Help:      "Stock-entry rows committed by outcome",
		}, []string{"outcome"}),
		expiryItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiry_items",
			Help:      "Batches per risk tier as of the last expiry sweep",
		}, []string{"status"}),
		expiryValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiry_value_at_risk",
			Help:      "Cost value per risk tier as of the last expiry sweep",
		}, []string{"status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_lookups_total",
			Help:      "Expiry report cache lookups by result",
		}, []string{"result"}),
		salesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_events_total",
			Help:      "Consumed sales events by outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.mutations,
		m.mutationTime,
		m.scans,
		m.commitRows,
		m.expiryItems,
		m.expiryValue,
		m.cacheLookups,
		m.salesProcessed,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveMutation records one ledger mutation
func (m *Metrics) ObserveMutation(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, outcome).Inc()
	m.mutationTime.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveScan records where a scan landed: increment, prefill or unknown
func (m *Metrics) ObserveScan(result string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result).Inc()
}

// ObserveCommit records committed and failed stock-entry rows
func (m *Metrics) ObserveCommit(applied, failed int) {
	if m == nil {
		return
	}
	m.commitRows.WithLabelValues(OutcomeApplied).Add(float64(applied))
	m.commitRows.WithLabelValues(OutcomeFailed).Add(float64(failed))
}

// SetExpiryTier publishes the latest sweep totals for a tier
func (m *Metrics) SetExpiryTier(status string, items int, value float64) {
	if m == nil {
		return
	}
	m.expiryItems.WithLabelValues(status).Set(float64(items))
	m.expiryValue.WithLabelValues(status).Set(value)
}

// ObserveCache records a report cache hit or miss
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveSale records a consumed sales event
func (m *Metrics) ObserveSale(outcome string) {
	if m == nil {
		return
	}
	m.salesProcessed.WithLabelValues(outcome).Inc()
}
