package sim

import "fmt"

// QueueConfig groups admission queue parameters.
type QueueConfig struct {
	Capacity int // waiting + in-flight events (UnboundedCapacity = never reject)
	Workers  int // concurrent workers (must be > 0)
}

// DependencyConfig groups the latency and availability model of a TimedDependency.
type DependencyConfig struct {
	Mean                 float64 // mean latency in ticks
	Std                  float64 // latency standard deviation in ticks
	Availability         float64 // probability a call succeeds, in [0,1]
	LatencyX0            float64 // load-dependent extra latency: x0 * (1+r)^concurrent (0 disables)
	LatencyR             float64 // growth rate of the extra latency
	DeadlockThreshold    int     // concurrency at which availability collapses (0 disables)
	DeadlockAvailability float64 // availability once the threshold is reached
}

// LatencyConfig groups the processing latency of a LatencyStage.
type LatencyConfig struct {
	Mean float64 // mean processing latency in ticks
	Std  float64 // standard deviation in ticks
}

// BreakerConfig groups circuit breaker parameters.
type BreakerConfig struct {
	Capacity        int     // ring size; with Window == 0 also the minimum fill
	Window          int64   // > 0 selects the time-windowed ring: samples older than Window ticks are evicted
	MinSamples      int     // minimum fill of the time-windowed ring
	ErrorThreshold  float64 // open when failure rate > ErrorThreshold
	TimeInOpenState int64   // ticks to stay open before trial traffic
}

// DefaultBreakerConfig returns the defaults used when a scenario leaves fields unset.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Capacity:        10,
		MinSamples:      20,
		ErrorThreshold:  0.3,
		TimeInOpenState: 3000,
	}
}

// AdaptiveConfig sets the worker count of the guarded queue per breaker state.
type AdaptiveConfig struct {
	ClosedWorkers   int
	HalfOpenWorkers int
	OpenWorkers     int
}

// DefaultAdaptiveConfig derives per-state worker counts from the pool size in
// the closed state: a tenth while open, half while half-open.
func DefaultAdaptiveConfig(closedWorkers int) AdaptiveConfig {
	return AdaptiveConfig{
		ClosedWorkers:   closedWorkers,
		HalfOpenWorkers: max(1, closedWorkers/2),
		OpenWorkers:     max(1, closedWorkers/10),
	}
}

// CacheConfig groups cache store parameters.
type CacheConfig struct {
	Capacity int   // max entries (must be > 0)
	TTL      int64 // entries older than TTL ticks read as absent
}

// QoSConfig groups the parameters of a QoS-gated cache.
type QoSConfig struct {
	Cache            CacheConfig
	LatencyMidpoint  float64 // costOfDelay sigmoid midpoint (ticks)
	LatencySteepness float64
	AgeMidpoint      float64 // utility sigmoid midpoint (ticks)
	AgeSteepness     float64
	FailFastValue    float64 // relative value of an immediate failure, in [0,1]
	ModelCapacity    int     // samples kept per DependencyModel window
	ModelHalfLife    int64   // ticks for stale estimates to decay halfway to the prior (0 disables)
}

// DefaultQoSConfig returns the settings of the reference QoS cache experiment.
func DefaultQoSConfig() QoSConfig {
	return QoSConfig{
		Cache:           CacheConfig{Capacity: 1000, TTL: 10000},
		LatencyMidpoint: 190,
		AgeMidpoint:     500,
		AgeSteepness:    4,
		FailFastValue:   0.3,
		ModelCapacity:   10,
		ModelHalfLife:   1000,
	}
}

// ArrivalConfig groups arrival generation parameters.
type ArrivalConfig struct {
	EventsPer1000Ticks float64 // arrival rate
	Process            string  // "constant" (default), "poisson", "gamma" or "weibull"
	CV                 float64 // coefficient of variation of gamma and weibull arrivals (0 = 1)
	KeyMean            float64 // mean of the sampled event key
	KeyStd             float64 // standard deviation of the sampled event key
}

// DefaultArrivalConfig returns the arrival settings shared by the reference scenarios.
func DefaultArrivalConfig() ArrivalConfig {
	return ArrivalConfig{
		EventsPer1000Ticks: 200,
		Process:            "constant",
		KeyMean:            1000,
		KeyStd:             200,
	}
}

// RunConfig bounds a simulation run.
type RunConfig struct {
	Ticks      int64 // arrival horizon (must be > 0)
	Events     int   // stop arrivals after this many events (0 = unlimited, horizon only)
	DrainTicks int64 // extra ticks allowed for in-flight events after arrivals stop (0 = DefaultDrainTicks)
}

// DefaultDrainTicks bounds the drain phase when RunConfig.DrainTicks is unset.
const DefaultDrainTicks = 1_000_000

// Validate rejects run configurations that cannot terminate meaningfully.
func (c RunConfig) Validate() error {
	if c.Ticks <= 0 {
		if c.Events > 0 {
			return fmt.Errorf("run: ticks must be positive when targeting %d events, got %d", c.Events, c.Ticks)
		}
		return fmt.Errorf("run: ticks must be positive, got %d", c.Ticks)
	}
	if c.Events < 0 {
		return fmt.Errorf("run: events must be non-negative, got %d", c.Events)
	}
	if c.DrainTicks < 0 {
		return fmt.Errorf("run: drain_ticks must be non-negative, got %d", c.DrainTicks)
	}
	return nil
}
