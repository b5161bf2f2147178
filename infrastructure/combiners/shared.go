// Package combiners provides the strategies that reduce the submitted
// evaluator scores of one vendor/criterion pair to a single criterion score.
package combiners

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/spac3man-G/amsf001-project-tracker-sub004/internal/domain"
)

// Common errors returned by combiners.
var (
	// ErrNoScores is returned when no scores are provided for combination.
	ErrNoScores = errors.New("no scores provided for combination")

	// ErrTooFewScores is returned when fewer scores than MinScores are given.
	ErrTooFewScores = errors.New("fewer scores than required for combination")

	// ErrUnknownMethod is returned by New for an unsupported method.
	ErrUnknownMethod = errors.New("unknown combination method")
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// configurable is a combiner whose configuration is decoded from YAML.
type configurable interface {
	domain.Combiner
	UnmarshalParameters(params yaml.Node) error
}

// New builds the combiner for method from a parameter map, typically the
// `params` block of the engine configuration. Unknown keys are ignored and
// missing keys keep their defaults.
func New(method domain.CombinationMethod, params map[string]any) (domain.Combiner, error) {
	var c configurable
	switch method {
	case domain.CombineMean:
		c = &MeanCombiner{config: DefaultMeanConfig()}
	case domain.CombineMedian:
		c = &MedianCombiner{config: DefaultMedianConfig()}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if len(params) == 0 {
		return c, nil
	}

	var node yaml.Node
	if err := node.Encode(params); err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	if err := c.UnmarshalParameters(node); err != nil {
		return nil, fmt.Errorf("%s combiner: %w", method, err)
	}
	return c, nil
}

// checkScores rejects empty, short and non-finite inputs.
func checkScores(values []float64, minScores int) error {
	if len(values) == 0 {
		return ErrNoScores
	}
	if len(values) < minScores {
		return fmt.Errorf("%w: have %d, need %d", ErrTooFewScores, len(values), minScores)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid score at index %d: %f", i, v)
		}
	}
	return nil
}
