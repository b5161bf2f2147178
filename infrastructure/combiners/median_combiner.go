package combiners

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

var _ domain.Combiner = (*MedianCombiner)(nil)

// MedianCombiner reduces evaluator scores to their median. An even number of
// scores yields the mean of the two middle values, so two evaluators scoring
// 4 and 2 combine to 3 under either method.
//
// Concurrency: stateless after construction and safe for concurrent use.
type MedianCombiner struct {
	config MedianConfig
}

// MedianConfig controls the median combination.
type MedianConfig struct {
	// MinScores is the number of submitted scores required before a
	// criterion score is produced.
	MinScores int `yaml:"min_scores" json:"min_scores" validate:"min=1"`
}

// DefaultMedianConfig returns a median over at least one score.
func DefaultMedianConfig() MedianConfig {
	return MedianConfig{MinScores: 1}
}

// NewMedianCombiner creates a MedianCombiner with a validated configuration.
func NewMedianCombiner(config MedianConfig) (*MedianCombiner, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &MedianCombiner{config: config}, nil
}

// Method returns domain.CombineMedian.
func (c *MedianCombiner) Method() domain.CombinationMethod { return domain.CombineMedian }

// Combine returns the median of values without reordering them.
func (c *MedianCombiner) Combine(values []float64) (float64, error) {
	if err := checkScores(values, c.config.MinScores); err != nil {
		return 0, err
	}
	return domain.Median(values), nil
}

// UnmarshalParameters replaces the configuration from a YAML node.
func (c *MedianCombiner) UnmarshalParameters(params yaml.Node) error {
	cfg := DefaultMedianConfig()
	if err := params.Decode(&cfg); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	c.config = cfg
	return nil
}
