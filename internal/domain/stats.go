package domain

import (
	"math"
	"sort"
)

// Median returns the median of values without modifying them. An even count
// yields the mean of the two middle values. It returns NaN for no values.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MedianAbsoluteDeviation returns the median of |v - median| together with
// the median itself.
func MedianAbsoluteDeviation(values []float64) (mad, median float64) {
	median = Median(values)
	if len(values) == 0 {
		return math.NaN(), median
	}
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - median)
	}
	return Median(deviations), median
}

// Spread returns max - min of values, or 0 for fewer than two values.
func Spread(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

// RoundForDisplay rounds v to places decimals. It is meant for renderers
// only; computations keep full precision.
func RoundForDisplay(v float64, places int) float64 {
	if places < 0 {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
