// Package middleware provides cross-cutting concerns for the scoring engine:
// Prometheus metrics and OpenTelemetry operation tracing.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

// Metric names understood by PrometheusMetrics. Other counter names are
// recorded under scoring_operations_total.
const (
	MetricScoreSubmissions  = "score_submissions_total"
	MetricLockActions       = "lock_actions_total"
	MetricConflicts         = "concurrency_conflicts_total"
	MetricAnomaliesFlagged  = "anomalies_flagged_total"
	MetricReconciliations   = "reconciliation_events_total"
	MetricCoverage          = "traceability_coverage_percent"
	MetricVendorTotal       = "vendor_total_score"
	MetricCacheLookups      = "cache_lookups_total"
	metricNamespace         = "scoring"
	unknownLabelValue       = "unknown"
	defaultLatencyOperation = "operation"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. Every collector is registered on the Registerer given to
// NewPrometheusMetrics.
type PrometheusMetrics struct {
	scoreSubmissions *prometheus.CounterVec
	lockActions      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	reconciliations  *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	coverage         *prometheus.GaugeVec
	vendorTotals     *prometheus.HistogramVec
	latency          *prometheus.HistogramVec
	operations       *prometheus.CounterVec
	gauges           *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the scoring collectors on reg. A nil reg uses
// the global default registerer, which accepts one instance per process.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		scoreSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricScoreSubmissions,
				Help:      "Score writes by outcome.",
			},
			[]string{"status"},
		),
		lockActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricLockActions,
				Help:      "Lock and unlock actions by scope type.",
			},
			[]string{"action", "scope_type"},
		),
		conflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricConflicts,
				Help:      "Optimistic version conflicts by entity.",
			},
			[]string{"entity"},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricAnomaliesFlagged,
				Help:      "Anomalies flagged by dimension and severity.",
			},
			[]string{"dimension", "severity"},
		),
		reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricReconciliations,
				Help:      "Reconciliation lifecycle events: flagged, locked, escalated, fallback.",
			},
			[]string{"outcome"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricCacheLookups,
				Help:      "Read-path cache lookups by result.",
			},
			[]string{"operation", "result"},
		),
		coverage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      MetricCoverage,
				Help:      "Share of requirements fully scored for every active vendor.",
			},
			[]string{"evaluation_id"},
		),
		vendorTotals: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      MetricVendorTotal,
				Help:      "Distribution of computed vendor totals.",
				Buckets:   prometheus.LinearBuckets(0.5, 0.5, 10),
			},
			[]string{"evaluation_id"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Execution time of engine operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "operations_total",
				Help:      "Engine events without a dedicated collector.",
			},
			[]string{"operation", "status"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "state",
				Help:      "Current engine state values.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	if operation == "" {
		operation = defaultLatencyOperation
	}
	pm.latency.WithLabelValues(operation, label(labels, "status")).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricScoreSubmissions:
		pm.scoreSubmissions.WithLabelValues(label(labels, "status")).Add(value)
	case MetricLockActions:
		pm.lockActions.WithLabelValues(label(labels, "action"), label(labels, "scope_type")).Add(value)
	case MetricConflicts:
		pm.conflicts.WithLabelValues(label(labels, "entity")).Add(value)
	case MetricAnomaliesFlagged:
		pm.anomalies.WithLabelValues(label(labels, "dimension"), label(labels, "severity")).Add(value)
	case MetricReconciliations:
		pm.reconciliations.WithLabelValues(label(labels, "outcome")).Add(value)
	case MetricCacheLookups:
		pm.cacheLookups.WithLabelValues(label(labels, "operation"), label(labels, "result")).Add(value)
	default:
		pm.operations.WithLabelValues(metric, label(labels, "status")).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricCoverage:
		pm.coverage.WithLabelValues(label(labels, "evaluation_id")).Set(value)
	default:
		pm.gauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram. Unknown histograms fall back to the
// latency histogram with the value taken as seconds.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricVendorTotal:
		pm.vendorTotals.WithLabelValues(label(labels, "evaluation_id")).Observe(value)
	default:
		pm.latency.WithLabelValues(metric, label(labels, "status")).Observe(value)
	}
}

func label(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return unknownLabelValue
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
