package middleware

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/ports"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

// TestNewPrometheusMetrics verifies that every collector is registered on
// the injected registry and that two registries do not collide.
func TestNewPrometheusMetrics(t *testing.T) {
	pm, reg := newTestMetrics(t)
	var _ ports.MetricsCollector = pm

	pm.RecordCounter(MetricScoreSubmissions, 1, map[string]string{"status": "submitted"})
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "scoring_score_submissions_total", families[0].GetName())

	assert.NotPanics(t, func() { NewPrometheusMetrics(prometheus.NewRegistry()) })
}

// TestPrometheusMetrics_RecordCounter tests routing of named counters to
// their dedicated collectors.
func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordCounter(MetricScoreSubmissions, 1, map[string]string{"status": "submitted"})
	pm.RecordCounter(MetricScoreSubmissions, 2, map[string]string{"status": "submitted"})
	pm.RecordCounter(MetricScoreSubmissions, 1, nil)
	pm.RecordCounter(MetricLockActions, 1, map[string]string{"action": "lock", "scope_type": "vendor"})
	pm.RecordCounter(MetricConflicts, 1, map[string]string{"entity": "score"})
	pm.RecordCounter(MetricAnomaliesFlagged, 1, map[string]string{"dimension": "price", "severity": "critical"})
	pm.RecordCounter(MetricReconciliations, 1, map[string]string{"outcome": "flagged"})
	pm.RecordCounter(MetricCacheLookups, 1, map[string]string{"operation": "ranking", "result": "hit"})
	pm.RecordCounter("phase_transitions_total", 1, map[string]string{"status": "ok"})

	assert.Equal(t, 3.0, testutil.ToFloat64(pm.scoreSubmissions.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.scoreSubmissions.WithLabelValues(unknownLabelValue)))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.lockActions.WithLabelValues("lock", "vendor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.conflicts.WithLabelValues("score")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.anomalies.WithLabelValues("price", "critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.reconciliations.WithLabelValues("flagged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.cacheLookups.WithLabelValues("ranking", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.operations.WithLabelValues("phase_transitions_total", "ok")))
}

// TestPrometheusMetrics_RecordLatency tests latency observations with and
// without a status label.
func TestPrometheusMetrics_RecordLatency(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		labels    map[string]string
	}{
		{name: "with status", operation: "GetVendorRanking", labels: map[string]string{"status": "ok"}},
		{name: "missing status", operation: "SubmitScore", labels: nil},
		{name: "empty operation", operation: "", labels: map[string]string{"status": "error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm, _ := newTestMetrics(t)
			pm.RecordLatency(tt.operation, 25*time.Millisecond, tt.labels)
			assert.Equal(t, 1, testutil.CollectAndCount(pm.latency))
		})
	}
}

func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordGauge(MetricCoverage, 66.7, map[string]string{"evaluation_id": "eval-1"})
	pm.RecordGauge(MetricCoverage, 100, map[string]string{"evaluation_id": "eval-1"})
	pm.RecordGauge("open_reconciliations", 4, nil)

	assert.Equal(t, 100.0, testutil.ToFloat64(pm.coverage.WithLabelValues("eval-1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.gauges.WithLabelValues("open_reconciliations")))
}

func TestPrometheusMetrics_RecordHistogram(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordHistogram(MetricVendorTotal, 3.8, map[string]string{"evaluation_id": "eval-1"})
	pm.RecordHistogram(MetricVendorTotal, 3.0, map[string]string{"evaluation_id": "eval-1"})
	pm.RecordHistogram("snapshot_load", 0.01, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(pm.vendorTotals))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.latency))
}
