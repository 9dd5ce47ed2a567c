package sim

import (
	"math"
	"math/rand"
)

// DefaultSigmoidSteepness is used by Sigmoid when the caller passes a
// non-positive steepness.
const DefaultSigmoidSteepness = 5.0

// Normal draws from a normal distribution with the given mean and standard deviation.
func Normal(rng *rand.Rand, mean, std float64) float64 {
	return rng.NormFloat64()*std + mean
}

// Exponential returns x0 * (1+r)^n, the extra latency a dependency accrues
// when n requests are in flight.
func Exponential(x0, r float64, n int) float64 {
	return x0 * math.Pow(1+r, float64(n))
}

// Sigmoid is a logistic curve that falls from 1 towards 0 as x grows, passing
// through 0.5 at midpoint. Steepness is expressed relative to the midpoint:
// with steepness k the curve drops from 1/(1+e^-k) at x=0 to 1/(1+e^k) at
// x=2*midpoint. A non-positive midpoint makes the curve a step at zero.
func Sigmoid(x, midpoint, steepness float64) float64 {
	if steepness <= 0 {
		steepness = DefaultSigmoidSteepness
	}
	if midpoint <= 0 {
		if x <= 0 {
			return 1
		}
		return 0
	}
	return 1 / (1 + math.Exp(steepness*(x-midpoint)/midpoint))
}

// Bernoulli reports true with probability p.
func Bernoulli(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}
