// Package randengine wraps golang.org/x/exp/rand with the draws the simulator needs.
// An Engine is not safe for concurrent use; the simulation loop owns its engine.
package randengine

import (
	"golang.org/x/exp/rand"
)

// Engine is a seeded random source
type Engine struct {
	*rand.Rand
}

// New creates an engine whose sequence is fully determined by seed
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed))}
}

// PTrue returns true with probability p
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// Uniform returns a value drawn uniformly from [lo, hi)
func (e *Engine) Uniform(lo, hi float64) float64 {
	return lo + e.Float64()*(hi-lo)
}

// DiscreteDistribution returns an index drawn with probability proportional to weight.
// Non-positive weights are never chosen; if every weight is non-positive the draw is uniform.
func (e *Engine) DiscreteDistribution(weight []float64) int {
	total := 0.
	for _, w := range weight {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return e.Intn(len(weight))
	}
	random := e.Float64() * total
	sum := 0.
	last := 0
	for i, w := range weight {
		if w <= 0 {
			continue
		}
		sum += w
		last = i
		if sum > random {
			return i
		}
	}
	return last
}
