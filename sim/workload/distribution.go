package workload

import (
	"fmt"
	"math"
	"math/rand"
)

// KeySampler produces clamped Gaussian event keys. Keys are what cache stages
// index by, so the standard deviation sets the size of the hot key space.
type KeySampler struct {
	mean, stdDev float64
	min, max     int
}

// NewKeySampler returns a sampler of normal(mean, stdDev) keys clamped to
// [0, math.MaxInt32].
func NewKeySampler(mean, stdDev float64) (*KeySampler, error) {
	if stdDev < 0 {
		return nil, fmt.Errorf("key std must be non-negative, got %f", stdDev)
	}
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return nil, fmt.Errorf("key mean must be finite, got %f", mean)
	}
	return &KeySampler{mean: mean, stdDev: stdDev, min: 0, max: math.MaxInt32}, nil
}

// Sample returns the next key.
func (s *KeySampler) Sample(rng *rand.Rand) int {
	val := rng.NormFloat64()*s.stdDev + s.mean
	clamped := math.Min(float64(s.max), math.Max(float64(s.min), val))
	return int(math.Round(clamped))
}
