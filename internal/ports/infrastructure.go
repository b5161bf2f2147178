package ports

import (
	"context"
	"time"
)

// CacheStore holds computed read results: rankings, breakdowns, variance
// tables, traceability matrices and anomaly reports. The engine embeds the
// evaluation Version in every key, so writes never invalidate entries
// explicitly; stale versions simply stop being asked for and age out.
type CacheStore interface {
	// Get returns the value under key and whether it was present. Expired
	// entries report as absent.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores value under key for ttl. A zero ttl keeps the entry until
	// it is evicted or deleted.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete drops key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear drops every entry.
	Clear(ctx context.Context) error
}

// MetricsCollector receives the engine's operational measurements. Label
// sets are small and fixed per metric name; see the Metric* constants in
// the middleware package for the names the engine emits.
type MetricsCollector interface {
	// RecordLatency observes how long an engine operation took.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter adds value to a counter such as score submissions or
	// concurrency conflicts.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets a point-in-time value, for example traceability
	// coverage.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram observes one sample, for example a vendor total.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// ConfigLoader resolves engine configuration from its sources.
type ConfigLoader interface {
	// Load fills config, which must be a pointer to the loader's
	// configuration type.
	//
	//	var cfg application.EngineConfig
	//	err := loader.Load(ctx, &cfg)
	Load(ctx context.Context, config any) error

	// Watch calls callback with a freshly loaded configuration each time
	// the source changes and the result validates. config is only used to
	// check the target type. The returned stop function is idempotent.
	Watch(ctx context.Context, config any, callback func(any)) (stop func(), err error)
}
