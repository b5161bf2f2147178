package domain

// CombinationMethod names the statistic used to combine the submitted
// evaluator scores of one vendor/criterion pair.
type CombinationMethod string

// Supported combination methods.
const (
	// CombineMean is the arithmetic mean of submitted scores.
	CombineMean CombinationMethod = "mean"

	// CombineMedian is the median of submitted scores.
	CombineMedian CombinationMethod = "median"
)

// CombinationMethodValues lists every combination method.
func CombinationMethodValues() []string {
	return []string{string(CombineMean), string(CombineMedian)}
}

// Valid reports whether m is a known method.
func (m CombinationMethod) Valid() bool { return m == CombineMean || m == CombineMedian }

// Combiner defines the interface for combining multiple evaluator scores
// into a single criterion score. Implementations provide different
// strategies such as arithmetic mean or median.
type Combiner interface {
	// Method returns the strategy implemented by the combiner.
	Method() CombinationMethod

	// Combine reduces values to one score. The result of combining values
	// that all lie within a scale must lie within the same scale.
	//
	// The method should handle edge cases such as:
	//   - Empty value lists (return error)
	//   - NaN or infinite values (return error)
	//
	// Example:
	//
	//	score, err := combiner.Combine([]float64{4, 2})
	Combine(values []float64) (float64, error)
}
