package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Arrival processes understood by NewArrivalSampler.
const (
	ProcessConstant = "constant"
	ProcessPoisson  = "poisson"
	ProcessGamma    = "gamma"
	ProcessWeibull  = "weibull"
)

// ArrivalSampler generates inter-arrival times for the simulation engine.
type ArrivalSampler interface {
	// SampleIAT returns the next inter-arrival time in ticks. Fractional
	// values accumulate, so 200 arrivals per 1000 ticks is one every 5 ticks
	// and 3 per 1000 ticks still lands exactly 3 arrivals in 1000 ticks.
	// Always returns a positive value.
	SampleIAT(rng *rand.Rand) float64
}

// ConstantSampler spaces arrivals evenly.
type ConstantSampler struct {
	iat float64
}

func (s *ConstantSampler) SampleIAT(_ *rand.Rand) float64 {
	return s.iat
}

// PoissonSampler generates exponentially-distributed inter-arrival times (CV=1).
type PoissonSampler struct {
	ratePerTick float64
}

func (s *PoissonSampler) SampleIAT(rng *rand.Rand) float64 {
	return positive(rng.ExpFloat64() / s.ratePerTick)
}

// GammaSampler generates Gamma-distributed inter-arrival times.
// CV > 1 produces bursty arrivals, the traffic shape that trips breakers
// at average rates a dependency could otherwise absorb.
// Implemented using Marsaglia-Tsang's method for shape >= 1,
// with transformation for shape < 1.
type GammaSampler struct {
	shape float64 // 1/CV² (alpha parameter)
	scale float64 // CV²/rate in ticks (beta parameter)
}

func (s *GammaSampler) SampleIAT(rng *rand.Rand) float64 {
	return positive(gammaRand(rng, s.shape, s.scale))
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape >= 1: direct method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		// Ahrens-Dieter: Gamma(a) = Gamma(a+1) * U^(1/a)
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		// Squeeze test
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// WeibullSampler generates Weibull-distributed inter-arrival times.
type WeibullSampler struct {
	shape float64 // Weibull k parameter
	scale float64 // Weibull λ parameter (in ticks)
}

func (s *WeibullSampler) SampleIAT(rng *rand.Rand) float64 {
	// Inverse CDF: scale * (-ln(U))^(1/shape)
	u := rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64 // prevent -ln(0) = +Inf
	}
	return positive(s.scale * math.Pow(-math.Log(u), 1.0/s.shape))
}

// minIAT keeps samplers from returning zero, which would emit unbounded
// arrivals within one tick.
const minIAT = 1e-9

func positive(iat float64) float64 {
	if iat < minIAT || math.IsNaN(iat) {
		return minIAT
	}
	return iat
}

// ValidateProcess rejects unknown process names. The empty name selects constant.
func ValidateProcess(process string) error {
	switch process {
	case "", ProcessConstant, ProcessPoisson, ProcessGamma, ProcessWeibull:
		return nil
	default:
		return fmt.Errorf("unknown arrival process %q; valid: constant, poisson, gamma, weibull", process)
	}
}

// NewArrivalSampler creates an ArrivalSampler for eventsPer1000Ticks arrivals.
// cv is the coefficient of variation of the gamma and weibull processes
// (non-positive means 1). Panics on an unknown process; call ValidateProcess
// first when the name comes from user input.
func NewArrivalSampler(process string, eventsPer1000Ticks, cv float64) ArrivalSampler {
	if err := ValidateProcess(process); err != nil {
		panic(fmt.Sprintf("NewArrivalSampler: %v", err))
	}
	ratePerTick := eventsPer1000Ticks / 1000
	if ratePerTick < 1e-15 {
		ratePerTick = 1e-15
	}
	if cv <= 0 {
		cv = 1.0
	}
	mean := 1.0 / ratePerTick
	switch process {
	case ProcessPoisson:
		return &PoissonSampler{ratePerTick: ratePerTick}

	case ProcessGamma:
		// shape = 1/CV², scale = mean * CV²
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{ratePerTick: ratePerTick}
		}
		return &GammaSampler{shape: shape, scale: mean * cv * cv}

	case ProcessWeibull:
		k := weibullShapeFromCV(cv)
		// scale = mean / Γ(1 + 1/k)
		return &WeibullSampler{shape: k, scale: mean / math.Gamma(1.0+1.0/k)}

	default:
		return &ConstantSampler{iat: mean}
	}
}

// weibullShapeFromCV finds Weibull shape parameter k such that
// CV² = Γ(1+2/k)/Γ(1+1/k)² - 1, using bisection.
// Range: k ∈ [0.1, 100], tolerance: |CV_computed - CV_target| < 0.001.
func weibullShapeFromCV(targetCV float64) float64 {
	lo, hi := 0.1, 100.0
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2.0
		cv := weibullCV(mid)
		if math.Abs(cv-targetCV) < 0.001 {
			return mid
		}
		// CV is monotonically decreasing in k
		if cv > targetCV {
			lo = mid
		} else {
			hi = mid
		}
	}
	logrus.Warnf("weibullShapeFromCV: bisection did not converge for CV=%.3f after 100 iterations; using k=%.3f", targetCV, (lo+hi)/2.0)
	return (lo + hi) / 2.0
}

// weibullCV computes the coefficient of variation for Weibull(k).
func weibullCV(k float64) float64 {
	g1 := math.Gamma(1.0 + 1.0/k)
	g2 := math.Gamma(1.0 + 2.0/k)
	return math.Sqrt(g2/(g1*g1) - 1.0)
}
