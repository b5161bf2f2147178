// Package application wires the scoring computations to the store, the
// collaborators and the observability stack, and exposes them as the
// Engine facade.
package application

import (
	"time"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/notify"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/infrastructure/scoring"
	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// Store drivers accepted in StoreConfig.Driver.
const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
)

// EngineConfig is the complete configuration of the scoring engine.
// Use DefaultEngineConfig as the base and let a FileConfigLoader overlay a
// YAML file and environment overrides on top of it.
type EngineConfig struct {
	// Scale bounds every score and consensus value of evaluations that do
	// not carry their own scale.
	Scale domain.Scale `yaml:"scale"`

	// Combination selects how the submitted scores of one vendor and
	// criterion are reduced to a criterion score.
	Combination CombinationConfig `yaml:"combination"`

	// WeightPolicy decides whether a weight change rescales its siblings.
	WeightPolicy domain.WeightPolicy `yaml:"weight_policy" validate:"required,weightpolicy"`

	Reconciliation scoring.ReconcileConfig `yaml:"reconciliation"`
	Anomaly        scoring.AnomalyConfig   `yaml:"anomaly"`
	RAG            scoring.RAGThresholds   `yaml:"rag"`
	Cache          CacheConfig             `yaml:"cache"`

	// ConflictRetries is the number of automatic retries of engine-internal
	// compare-and-swap paths after a concurrency conflict.
	ConflictRetries int `yaml:"conflict_retries" validate:"min=0,max=3"`

	Store StoreConfig `yaml:"store"`

	// Notify configures event delivery. Without a URL events are only
	// logged.
	Notify notify.NATSConfig `yaml:"notify"`
}

// CombinationConfig names the combination method and its parameters.
type CombinationConfig struct {
	Method domain.CombinationMethod `yaml:"method" validate:"required,combination"`
	Params map[string]any           `yaml:"params,omitempty"`
}

// CacheConfig bounds the read-path cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" validate:"gt=0"`
	MaxEntries int           `yaml:"max_entries" validate:"min=0"`
}

// StoreConfig selects the persistent store.
type StoreConfig struct {
	Driver   string `yaml:"driver" validate:"required,oneof=memory mysql"`
	MySQLDSN string `yaml:"mysql_dsn" validate:"required_if=Driver mysql"`
}

// DefaultEngineConfig returns the documented defaults: scale 1-5, mean
// combination, manual weight policy, variance threshold 1.0 with a 72h
// report_unresolved window, anomaly k=2.5 over three vendors, RAG 4/3, a
// five-minute cache and one conflict retry.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Scale:           domain.DefaultScale,
		Combination:     CombinationConfig{Method: domain.CombineMean},
		WeightPolicy:    domain.WeightPolicyManual,
		Reconciliation:  scoring.DefaultReconcileConfig(),
		Anomaly:         scoring.DefaultAnomalyConfig(),
		RAG:             scoring.DefaultRAGThresholds(),
		Cache:           CacheConfig{TTL: 5 * time.Minute, MaxEntries: 1024},
		ConflictRetries: 1,
		Store:           StoreConfig{Driver: DriverMemory},
		Notify:          notify.DefaultNATSConfig(),
	}
}
