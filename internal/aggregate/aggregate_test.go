package aggregate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected float64
	}{
		{"single price", []float64{2.0}, 2.0},
		{"multiple prices", []float64{1.8, 2.0, 2.2}, 2.0},
		{"empty input", []float64{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mean(tt.prices)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Mean got = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected float64
	}{
		{"odd count", []float64{2.1, 1.9, 2.0}, 2.0},
		{"even count", []float64{1.8, 2.2, 2.0, 2.4}, 2.1},
		{"single", []float64{3.5}, 3.5},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Median(tt.prices)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Median got = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMedian_DoesNotReorderInput(t *testing.T) {
	prices := []float64{3.0, 1.5, 2.0}
	Median(prices)
	assert.Equal(t, []float64{3.0, 1.5, 2.0}, prices)
}

func TestStdDev(t *testing.T) {
	assert.Zero(t, StdDev([]float64{2.0}))
	assert.InDelta(t, 0.0, StdDev([]float64{2.0, 2.0, 2.0}), 1e-12)
	assert.InDelta(t, 1.0, StdDev([]float64{1.0, 3.0}), 1e-12)
}

func TestValidatePrice(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"valid price", 1.85, false},
		{"evens", 2.0, false},
		{"exactly one", 1.0, true},
		{"below one", 0.5, true},
		{"negative", -2.0, true},
		{"absurd", 5000, true},
		{"nan", math.NaN(), true},
		{"inf", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrice(tt.price)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterOutliers(t *testing.T) {
	prices := []float64{1.90, 1.95, 2.00, 2.05, 2.10, 9.50}
	filtered := FilterOutliers(prices)
	assert.Len(t, filtered, 5)
	assert.NotContains(t, filtered, 9.50)

	short := []float64{1.5, 9.0, 2.0}
	assert.Equal(t, short, FilterOutliers(short))
}

func TestTrimmedMean(t *testing.T) {
	prices := []float64{1.0, 2.0, 2.0, 2.0, 10.0}
	assert.InDelta(t, 2.0, TrimmedMean(prices, 0.2), 1e-9)

	// Out-of-range trim falls back to the plain mean
	assert.InDelta(t, Mean(prices), TrimmedMean(prices, 0.6), 1e-9)
	assert.InDelta(t, 1.5, TrimmedMean([]float64{1.0, 2.0}, 0.2), 1e-9)
}

func TestConsensus(t *testing.T) {
	s := Consensus([]float64{1.90, 1.95, 2.00, 2.05, 2.10, 9.50, 0.9})

	assert.Equal(t, 6, s.Count)
	assert.Equal(t, 9.50, s.Best)
	assert.Equal(t, 1.90, s.Worst)
	assert.InDelta(t, 2.0, s.Mean, 1e-9)
	assert.InDelta(t, 2.0, s.Median, 1e-9)
	assert.Greater(t, s.Dispersion, 0.0)
	assert.Less(t, s.Dispersion, 0.05)
}

func TestConsensus_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Consensus(nil))
	assert.Equal(t, Summary{}, Consensus([]float64{1.0, 0.5}))
}
