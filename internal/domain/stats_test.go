package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
		{"price outlier quotes", []float64{100000, 105000, 98000, 40000}, 99000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]float64(nil), tt.values...)
			assert.Equal(t, tt.want, Median(in))
			assert.Equal(t, tt.values, in, "input must not be reordered")
		})
	}

	assert.True(t, math.IsNaN(Median(nil)))
}

// TestMedianAbsoluteDeviation tests MAD against hand-computed values.
func TestMedianAbsoluteDeviation(t *testing.T) {
	mad, median := MedianAbsoluteDeviation([]float64{100000, 105000, 98000, 40000})
	assert.Equal(t, 99000.0, median)
	// deviations: 1000, 6000, 1000, 59000 -> median of {1000,1000,6000,59000}
	assert.Equal(t, 3500.0, mad)

	mad, median = MedianAbsoluteDeviation([]float64{5, 5, 5})
	assert.Equal(t, 5.0, median)
	assert.Equal(t, 0.0, mad)

	mad, _ = MedianAbsoluteDeviation(nil)
	assert.True(t, math.IsNaN(mad))
}

func TestSpread(t *testing.T) {
	assert.Equal(t, 2.0, Spread([]float64{4, 2}))
	assert.Equal(t, 0.0, Spread([]float64{3}))
	assert.Equal(t, 0.0, Spread(nil))
	assert.Equal(t, 3.5, Spread([]float64{1.5, 5, 3}))
}

func TestRoundForDisplay(t *testing.T) {
	assert.Equal(t, 3.8, RoundForDisplay(3.7999999999, 2))
	assert.Equal(t, 3.33, RoundForDisplay(10.0/3, 2))
	assert.Equal(t, 4.0, RoundForDisplay(3.6, 0))
	assert.Equal(t, 1.23456, RoundForDisplay(1.23456, -1))
}
