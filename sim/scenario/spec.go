// Package scenario loads declarative YAML scenarios: an arrival process, run
// bounds, optional mid-run shocks and a pipeline of stages listed outermost
// first, e.g.
//
//	seed: 42
//	arrivals: {rate: 200, key_mean: 1000, key_std: 200}
//	run: {ticks: 10000}
//	pipeline:
//	  - {name: cb, type: circuit-breaker, breaker: {capacity: 10, error_threshold: 0.3}}
//	  - {name: db, type: dependency, queue: {capacity: 11, workers: 10},
//	     dependency: {mean: 20, std: 4}}
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/resilience-sim/sim"
	"github.com/inference-sim/resilience-sim/sim/workload"
)

// Stage types.
const (
	TypeDependency      = "dependency"
	TypeLatency         = "latency"
	TypeCircuitBreaker  = "circuit-breaker"
	TypeAdaptiveBreaker = "adaptive-circuit-breaker"
	TypeRetry           = "retry"
	TypeTimeout         = "timeout"
	TypeCache           = "cache"
	TypeQoSCache        = "qos-cache"
)

var validStageTypes = map[string]bool{
	TypeDependency: true, TypeLatency: true, TypeCircuitBreaker: true, TypeAdaptiveBreaker: true,
	TypeRetry: true, TypeTimeout: true, TypeCache: true, TypeQoSCache: true,
}

// Spec is the top-level scenario configuration.
// Loaded from YAML via Load(path).
type Spec struct {
	Version  string      `yaml:"version,omitempty"`
	Seed     int64       `yaml:"seed"`
	Arrivals ArrivalSpec `yaml:"arrivals"`
	Run      RunSpec     `yaml:"run"`
	Shocks   []ShockSpec `yaml:"shocks,omitempty"`
	Pipeline []StageSpec `yaml:"pipeline"`
}

// ArrivalSpec configures event generation.
type ArrivalSpec struct {
	Rate    float64 `yaml:"rate"` // events per 1000 ticks
	Process string  `yaml:"process,omitempty"`
	CV      float64 `yaml:"cv,omitempty"`
	KeyMean float64 `yaml:"key_mean"`
	KeyStd  float64 `yaml:"key_std"`
}

// RunSpec bounds the run.
type RunSpec struct {
	Ticks      int64 `yaml:"ticks"`
	Events     int   `yaml:"events,omitempty"`      // 0 = unlimited (use ticks only)
	DrainTicks int64 `yaml:"drain_ticks,omitempty"` // 0 = sim.DefaultDrainTicks
}

// ShockSpec changes the world at a given tick: the availability of a
// dependency stage, the arrival rate, or both.
type ShockSpec struct {
	At           int64    `yaml:"at"`
	Stage        string   `yaml:"stage,omitempty"`
	Availability *float64 `yaml:"availability,omitempty"`
	Rate         *float64 `yaml:"rate,omitempty"`
}

// StageSpec declares one pipeline stage. Only the block matching Type is read.
type StageSpec struct {
	Name       string          `yaml:"name"`
	Type       string          `yaml:"type"`
	Queue      *QueueSpec      `yaml:"queue,omitempty"`
	Dependency *DependencySpec `yaml:"dependency,omitempty"`
	Latency    *LatencySpec    `yaml:"latency,omitempty"`
	Breaker    *BreakerSpec    `yaml:"breaker,omitempty"`
	Adaptive   *AdaptiveSpec   `yaml:"adaptive,omitempty"`
	Attempts   int             `yaml:"attempts,omitempty"`
	Timeout    int64           `yaml:"timeout,omitempty"`
	Cache      *CacheSpec      `yaml:"cache,omitempty"`
	QoS        *QoSSpec        `yaml:"qos,omitempty"`
}

// QueueSpec configures an admission queue. A nil capacity is unbounded.
type QueueSpec struct {
	Capacity *int `yaml:"capacity,omitempty"`
	Workers  int  `yaml:"workers"`
}

// DependencySpec configures a TimedDependency. Availability defaults to 1.
type DependencySpec struct {
	Mean                 float64  `yaml:"mean"`
	Std                  float64  `yaml:"std"`
	Availability         *float64 `yaml:"availability,omitempty"`
	LatencyX0            float64  `yaml:"latency_x0,omitempty"`
	LatencyR             float64  `yaml:"latency_r,omitempty"`
	DeadlockThreshold    int      `yaml:"deadlock_threshold,omitempty"`
	DeadlockAvailability float64  `yaml:"deadlock_availability,omitempty"`
}

// LatencySpec configures a LatencyStage.
type LatencySpec struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
}

// BreakerSpec configures a circuit breaker. Zero values take the defaults of
// sim.DefaultBreakerConfig; ErrorThreshold is a pointer because 0 is a
// meaningful threshold.
type BreakerSpec struct {
	Capacity        int      `yaml:"capacity,omitempty"`
	Window          int64    `yaml:"window,omitempty"`
	MinSamples      int      `yaml:"min_samples,omitempty"`
	ErrorThreshold  *float64 `yaml:"error_threshold,omitempty"`
	TimeInOpenState int64    `yaml:"time_in_open_state,omitempty"`
}

// AdaptiveSpec sets per-state worker counts. Zero values are derived from the
// governed queue's worker count via sim.DefaultAdaptiveConfig.
type AdaptiveSpec struct {
	ClosedWorkers   int `yaml:"closed_workers,omitempty"`
	HalfOpenWorkers int `yaml:"half_open_workers,omitempty"`
	OpenWorkers     int `yaml:"open_workers,omitempty"`
}

// CacheSpec configures an LRU store. Zero values take the defaults of
// sim.DefaultQoSConfig().Cache.
type CacheSpec struct {
	Capacity int   `yaml:"capacity,omitempty"`
	TTL      int64 `yaml:"ttl,omitempty"`
}

// QoSSpec configures a QoS-gated cache. Zero values take the defaults of
// sim.DefaultQoSConfig.
type QoSSpec struct {
	Cache            CacheSpec `yaml:"cache,omitempty"`
	LatencyMidpoint  float64   `yaml:"latency_midpoint,omitempty"`
	LatencySteepness float64   `yaml:"latency_steepness,omitempty"`
	AgeMidpoint      float64   `yaml:"age_midpoint,omitempty"`
	AgeSteepness     float64   `yaml:"age_steepness,omitempty"`
	FailFastValue    *float64  `yaml:"fail_fast_value,omitempty"`
	ModelCapacity    int       `yaml:"model_capacity,omitempty"`
	ModelHalfLife    *int64    `yaml:"model_half_life,omitempty"`
}

// Load reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario strictly.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &spec, nil
}

// ArrivalConfig converts the arrival block.
func (s *Spec) ArrivalConfig() sim.ArrivalConfig {
	return sim.ArrivalConfig{
		EventsPer1000Ticks: s.Arrivals.Rate,
		Process:            s.Arrivals.Process,
		CV:                 s.Arrivals.CV,
		KeyMean:            s.Arrivals.KeyMean,
		KeyStd:             s.Arrivals.KeyStd,
	}
}

// RunConfig converts the run block.
func (s *Spec) RunConfig() sim.RunConfig {
	return sim.RunConfig{Ticks: s.Run.Ticks, Events: s.Run.Events, DrainTicks: s.Run.DrainTicks}
}

// Validate checks the whole scenario. Errors name the offending field.
func (s *Spec) Validate() error {
	if s.Version != "" && s.Version != "1" {
		return fmt.Errorf("unsupported version %q; valid: 1", s.Version)
	}
	if err := validateFiniteNonNegative("arrivals.rate", s.Arrivals.Rate); err != nil {
		return err
	}
	if err := workload.ValidateProcess(s.Arrivals.Process); err != nil {
		return fmt.Errorf("arrivals.process: %w", err)
	}
	if err := validateFiniteNonNegative("arrivals.cv", s.Arrivals.CV); err != nil {
		return err
	}
	if err := validateFiniteNonNegative("arrivals.key_std", s.Arrivals.KeyStd); err != nil {
		return err
	}
	if math.IsNaN(s.Arrivals.KeyMean) || math.IsInf(s.Arrivals.KeyMean, 0) {
		return fmt.Errorf("arrivals.key_mean must be a finite number, got %f", s.Arrivals.KeyMean)
	}
	if err := s.RunConfig().Validate(); err != nil {
		return err
	}
	if len(s.Pipeline) == 0 {
		return fmt.Errorf("pipeline must declare at least one stage")
	}

	types := make(map[string]string, len(s.Pipeline))
	queued := false
	for i := range s.Pipeline {
		st := &s.Pipeline[i]
		if err := validateStage(st, i, len(s.Pipeline), queued); err != nil {
			return err
		}
		if _, dup := types[st.Name]; dup {
			return fmt.Errorf("pipeline[%d]: duplicate stage name %q", i, st.Name)
		}
		types[st.Name] = st.Type
		queued = queued || st.Queue != nil
	}
	for i, sh := range s.Shocks {
		if err := validateShock(sh, i, types); err != nil {
			return err
		}
	}
	return nil
}

func validateStage(st *StageSpec, idx, n int, enclosingQueue bool) error {
	prefix := fmt.Sprintf("pipeline[%d]", idx)
	if st.Name == "" {
		return fmt.Errorf("%s: name is required", prefix)
	}
	prefix = fmt.Sprintf("pipeline[%d] (%s)", idx, st.Name)
	if !validStageTypes[st.Type] {
		return fmt.Errorf("%s: unknown type %q; valid: dependency, latency, circuit-breaker, adaptive-circuit-breaker, retry, timeout, cache, qos-cache", prefix, st.Type)
	}
	last := idx == n-1
	if last && st.Type != TypeDependency {
		return fmt.Errorf("%s: the innermost stage must be a dependency, got %q", prefix, st.Type)
	}
	if !last && st.Type == TypeDependency {
		return fmt.Errorf("%s: a dependency has no inner stage and must be listed last", prefix)
	}
	if q := st.Queue; q != nil {
		if q.Workers < 1 {
			return fmt.Errorf("%s.queue: workers must be >= 1, got %d", prefix, q.Workers)
		}
		if q.Capacity != nil && *q.Capacity < 0 {
			return fmt.Errorf("%s.queue: capacity must be non-negative, got %d", prefix, *q.Capacity)
		}
	}

	switch st.Type {
	case TypeDependency:
		d := st.Dependency
		if d == nil {
			return fmt.Errorf("%s: dependency block is required", prefix)
		}
		if err := validateFiniteNonNegative(prefix+".dependency.std", d.Std); err != nil {
			return err
		}
		if d.Availability != nil {
			if err := validateProbability(prefix+".dependency.availability", *d.Availability); err != nil {
				return err
			}
		}
		if err := validateProbability(prefix+".dependency.deadlock_availability", d.DeadlockAvailability); err != nil {
			return err
		}
		if d.DeadlockThreshold < 0 {
			return fmt.Errorf("%s.dependency: deadlock_threshold must be non-negative, got %d", prefix, d.DeadlockThreshold)
		}
	case TypeLatency:
		if st.Latency == nil {
			return fmt.Errorf("%s: latency block is required", prefix)
		}
		if err := validateFiniteNonNegative(prefix+".latency.std", st.Latency.Std); err != nil {
			return err
		}
	case TypeCircuitBreaker, TypeAdaptiveBreaker:
		cfg := breakerConfig(st.Breaker)
		if cfg.ErrorThreshold < 0 || cfg.ErrorThreshold > 1 {
			return fmt.Errorf("%s.breaker: error_threshold must be in [0,1], got %f", prefix, cfg.ErrorThreshold)
		}
		if cfg.Capacity < 0 || cfg.Window < 0 || cfg.MinSamples < 0 || cfg.TimeInOpenState < 0 {
			return fmt.Errorf("%s.breaker: capacity, window, min_samples and time_in_open_state must be non-negative", prefix)
		}
		if cfg.Window > 0 && cfg.Capacity > 0 && cfg.MinSamples > cfg.Capacity {
			return fmt.Errorf("%s.breaker: min_samples %d exceeds capacity %d", prefix, cfg.MinSamples, cfg.Capacity)
		}
		if st.Type == TypeAdaptiveBreaker {
			if !enclosingQueue {
				return fmt.Errorf("%s: adaptive circuit breaker needs an enclosing stage with a queue", prefix)
			}
			if a := st.Adaptive; a != nil && (a.ClosedWorkers < 0 || a.HalfOpenWorkers < 0 || a.OpenWorkers < 0) {
				return fmt.Errorf("%s.adaptive: worker counts must be non-negative", prefix)
			}
		}
	case TypeRetry:
		if st.Attempts < 1 {
			return fmt.Errorf("%s: attempts must be >= 1, got %d", prefix, st.Attempts)
		}
	case TypeTimeout:
		if st.Timeout < 1 {
			return fmt.Errorf("%s: timeout must be >= 1 tick, got %d", prefix, st.Timeout)
		}
	case TypeCache:
		if c := st.Cache; c != nil && (c.Capacity < 0 || c.TTL < 0) {
			return fmt.Errorf("%s.cache: capacity and ttl must be non-negative", prefix)
		}
	case TypeQoSCache:
		if q := st.QoS; q != nil {
			if q.Cache.Capacity < 0 || q.Cache.TTL < 0 || q.ModelCapacity < 0 {
				return fmt.Errorf("%s.qos: cache capacity, ttl and model_capacity must be non-negative", prefix)
			}
			if q.FailFastValue != nil {
				if err := validateProbability(prefix+".qos.fail_fast_value", *q.FailFastValue); err != nil {
					return err
				}
			}
			if q.ModelHalfLife != nil && *q.ModelHalfLife < 0 {
				return fmt.Errorf("%s.qos: model_half_life must be non-negative, got %d", prefix, *q.ModelHalfLife)
			}
		}
	}
	return nil
}

func validateShock(sh ShockSpec, idx int, types map[string]string) error {
	prefix := fmt.Sprintf("shocks[%d]", idx)
	if sh.At < 0 {
		return fmt.Errorf("%s: at must be non-negative, got %d", prefix, sh.At)
	}
	if sh.Availability == nil && sh.Rate == nil {
		return fmt.Errorf("%s: set availability, rate or both", prefix)
	}
	if sh.Availability != nil {
		if types[sh.Stage] != TypeDependency {
			return fmt.Errorf("%s: availability shock needs a dependency stage, got %q", prefix, sh.Stage)
		}
		if err := validateProbability(prefix+".availability", *sh.Availability); err != nil {
			return err
		}
	}
	if sh.Rate != nil {
		if err := validateFiniteNonNegative(prefix+".rate", *sh.Rate); err != nil {
			return err
		}
	}
	return nil
}

func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}

func validateProbability(name string, val float64) error {
	if math.IsNaN(val) || val < 0 || val > 1 {
		return fmt.Errorf("%s must be in [0,1], got %f", name, val)
	}
	return nil
}
