package combiners

import (
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

var _ domain.Combiner = (*MeanCombiner)(nil)

// MeanCombiner reduces evaluator scores to their arithmetic mean. With a
// non-zero TrimFraction it drops that share of the lowest and highest
// scores first, which softens a single outlying evaluator without resorting
// to the median.
//
// The mean of values inside a closed interval stays inside that interval,
// so a combined score never leaves the evaluation scale.
//
// Concurrency: stateless after construction and safe for concurrent use.
type MeanCombiner struct {
	config MeanConfig
}

// MeanConfig controls the mean combination.
type MeanConfig struct {
	// MinScores is the number of submitted scores required before a
	// criterion score is produced. Below it Combine returns ErrTooFewScores.
	MinScores int `yaml:"min_scores" json:"min_scores" validate:"min=1"`

	// TrimFraction is the share of scores removed from each end before
	// averaging. 0 disables trimming.
	TrimFraction float64 `yaml:"trim_fraction" json:"trim_fraction" validate:"min=0,lt=0.5"`
}

// DefaultMeanConfig returns a plain arithmetic mean over at least one score.
func DefaultMeanConfig() MeanConfig {
	return MeanConfig{MinScores: 1}
}

// NewMeanCombiner creates a MeanCombiner with a validated configuration.
func NewMeanCombiner(config MeanConfig) (*MeanCombiner, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &MeanCombiner{config: config}, nil
}

// Method returns domain.CombineMean.
func (c *MeanCombiner) Method() domain.CombinationMethod { return domain.CombineMean }

// Combine returns the (optionally trimmed) mean of values. The input slice
// is not modified.
func (c *MeanCombiner) Combine(values []float64) (float64, error) {
	if err := checkScores(values, c.config.MinScores); err != nil {
		return 0, err
	}

	kept := values
	if trim := int(math.Floor(float64(len(values)) * c.config.TrimFraction)); trim > 0 {
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		kept = sorted[trim : len(sorted)-trim]
	}

	var sum float64
	for _, v := range kept {
		sum += v
	}
	return sum / float64(len(kept)), nil
}

// UnmarshalParameters replaces the configuration from a YAML node. The
// configuration is unchanged on error.
func (c *MeanCombiner) UnmarshalParameters(params yaml.Node) error {
	cfg := DefaultMeanConfig()
	if err := params.Decode(&cfg); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	c.config = cfg
	return nil
}
