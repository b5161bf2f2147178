package domain

import (
	"fmt"
	"math"
)

// WeightTolerance absorbs floating rounding in weight sums. It is not a
// configuration knob: real misconfiguration must never pass.
const WeightTolerance = 0.01

// WeightPolicy decides how a mid-evaluation weight change is absorbed.
type WeightPolicy string

// Supported weight policies.
const (
	// WeightPolicyManual keeps sibling weights untouched and reports the
	// resulting mismatch for manual correction.
	WeightPolicyManual WeightPolicy = "manual"

	// WeightPolicyAutoRedistribute rescales siblings proportionally so the
	// level sums to 100 again.
	WeightPolicyAutoRedistribute WeightPolicy = "auto_redistribute"
)

// Valid reports whether p is a known policy.
func (p WeightPolicy) Valid() bool {
	return p == WeightPolicyManual || p == WeightPolicyAutoRedistribute
}

// Weighted is one entry of a weight level.
type Weighted struct {
	ID     string
	Weight float64
}

// WeightChange is the outcome of RecalcAfterChange. Weights always holds the
// post-change level. Mismatch is set when the level no longer sums to 100.
type WeightChange struct {
	Weights       []Weighted
	Redistributed bool
	Mismatch      *WeightMismatchError
}

// ValidateCategoryWeights checks that the category weights of an evaluation
// sum to 100 within tolerance.
func ValidateCategoryWeights(categories []Category) error {
	scopeID := ""
	weights := make([]Weighted, 0, len(categories))
	for _, c := range categories {
		if scopeID == "" {
			scopeID = c.EvaluationID
		}
		weights = append(weights, Weighted{ID: c.ID, Weight: c.Weight})
	}
	return validateLevel(WeightLevelCategory, scopeID, weights)
}

// ValidateCriterionWeights checks that the criteria of one category sum to
// 100 within tolerance. Criteria belonging to another category are a
// validation error.
func ValidateCriterionWeights(category Category, criteria []Criterion) error {
	weights := make([]Weighted, 0, len(criteria))
	for _, c := range criteria {
		if c.CategoryID != category.ID {
			verr := NewValidationError("Criterion")
			verr.AddError(fmt.Sprintf("criterion %s belongs to category %s, not %s", c.ID, c.CategoryID, category.ID))
			return verr
		}
		weights = append(weights, Weighted{ID: c.ID, Weight: c.Weight})
	}
	return validateLevel(WeightLevelCriterion, category.ID, weights)
}

// RecalcAfterChange applies newWeight to changedID within one level. Under
// WeightPolicyAutoRedistribute the remaining siblings are rescaled
// proportionally; under WeightPolicyManual they are left alone and any
// resulting imbalance is reported in WeightChange.Mismatch.
func RecalcAfterChange(
	level WeightLevel,
	scopeID string,
	items []Weighted,
	changedID string,
	newWeight float64,
	policy WeightPolicy,
) (WeightChange, error) {
	if !policy.Valid() {
		return WeightChange{}, fmt.Errorf("%w: unknown weight policy %q", ErrInvalidConfiguration, policy)
	}
	if err := checkWeight(changedID, newWeight); err != nil {
		return WeightChange{}, err
	}

	out := make([]Weighted, len(items))
	copy(out, items)

	idx := -1
	var siblingSum float64
	for i, it := range out {
		if it.ID == changedID {
			idx = i
			continue
		}
		siblingSum += it.Weight
	}
	if idx < 0 {
		return WeightChange{}, fmt.Errorf("%s %s: %w", level, changedID, ErrNotFound)
	}
	out[idx].Weight = newWeight

	change := WeightChange{Weights: out}
	if policy == WeightPolicyAutoRedistribute && len(out) > 1 {
		remainder := 100 - newWeight
		siblings := len(out) - 1
		for i := range out {
			if i == idx {
				continue
			}
			if siblingSum > 0 {
				out[i].Weight = out[i].Weight * remainder / siblingSum
			} else {
				out[i].Weight = remainder / float64(siblings)
			}
		}
		change.Redistributed = true
	}

	if err := validateLevel(level, scopeID, out); err != nil {
		mismatch, ok := err.(*WeightMismatchError)
		if !ok {
			return WeightChange{}, err
		}
		change.Mismatch = mismatch
	}
	return change, nil
}

func validateLevel(level WeightLevel, scopeID string, weights []Weighted) error {
	var total float64
	for _, w := range weights {
		if err := checkWeight(w.ID, w.Weight); err != nil {
			return err
		}
		total += w.Weight
	}
	if math.Abs(total-100) > WeightTolerance {
		return &WeightMismatchError{Level: level, ScopeID: scopeID, Total: total}
	}
	return nil
}

func checkWeight(id string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 || w > 100 {
		verr := NewValidationError("Weight")
		verr.AddError(fmt.Sprintf("malformed weight %g for %s: must be between 0 and 100", w, id))
		return verr
	}
	return nil
}
