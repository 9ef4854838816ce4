// Package scorematrix builds the joint scoreline distribution of a fixture
// from two independent Poisson goal counts.
package scorematrix

import (
	"math"

	"github.com/yourorg/accafreeze-engine/internal/model"
)

// DefaultMaxGoals is the grid bound used when none is given
const DefaultMaxGoals = 6

// Matrix holds P(home=h, away=a) for h, a in [0, K] plus the probability mass
// of every scoreline with either side above K. Immutable after New.
type Matrix struct {
	lambdas  model.LambdaPair
	maxGoals int
	cells    [][]float64
	tail     float64
}

// New computes the matrix for the given lambdas. maxGoals < 1 selects
// DefaultMaxGoals.
func New(l model.LambdaPair, maxGoals int) *Matrix {
	if maxGoals < 1 {
		maxGoals = DefaultMaxGoals
	}

	ph := PMF(l.Home, maxGoals)
	pa := PMF(l.Away, maxGoals)

	cells := make([][]float64, maxGoals+1)
	var cdfHome, cdfAway float64
	for h := 0; h <= maxGoals; h++ {
		cells[h] = make([]float64, maxGoals+1)
		for a := 0; a <= maxGoals; a++ {
			cells[h][a] = ph[h] * pa[a]
		}
		cdfHome += ph[h]
		cdfAway += pa[h]
	}

	tail := 1 - cdfHome*cdfAway
	if tail < 0 {
		tail = 0
	}

	return &Matrix{
		lambdas:  l,
		maxGoals: maxGoals,
		cells:    cells,
		tail:     tail,
	}
}

// P returns the probability of the exact scoreline h-a. Scorelines outside
// the grid return 0; their mass is reported by Tail.
func (m *Matrix) P(h, a int) float64 {
	if h < 0 || a < 0 || h > m.maxGoals || a > m.maxGoals {
		return 0
	}
	return m.cells[h][a]
}

// Tail is the probability that either side scores more than MaxGoals
func (m *Matrix) Tail() float64 { return m.tail }

// MaxGoals returns the grid bound K
func (m *Matrix) MaxGoals() int { return m.maxGoals }

// Lambdas returns the inputs the matrix was built from
func (m *Matrix) Lambdas() model.LambdaPair { return m.lambdas }

// Sum returns the sum of every cell plus the tail
func (m *Matrix) Sum() float64 {
	var s float64
	m.Each(func(_, _ int, p float64) { s += p })
	return s + m.tail
}

// Each visits every in-grid cell in row-major order
func (m *Matrix) Each(fn func(h, a int, p float64)) {
	for h := 0; h <= m.maxGoals; h++ {
		for a := 0; a <= m.maxGoals; a++ {
			fn(h, a, m.cells[h][a])
		}
	}
}

// PMF returns the Poisson probabilities P(X=0..k) for rate lambda, computed
// iteratively to avoid factorial overflow.
func PMF(lambda float64, k int) []float64 {
	out := make([]float64, k+1)
	if lambda <= 0 {
		out[0] = 1
		return out
	}
	out[0] = math.Exp(-lambda)
	for i := 1; i <= k; i++ {
		out[i] = out[i-1] * lambda / float64(i)
	}
	return out
}
