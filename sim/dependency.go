package sim

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// TimedDependency is the stochastic leaf of a pipeline: an external service
// whose latency and availability may degrade with its own concurrency.
//
// Latency is drawn per call from normal(mean+extra, std+extra/500) where
// extra = LatencyX0 * (1+LatencyR)^concurrent, so a saturated dependency slows
// down. The outcome is a Bernoulli draw against Availability, or against
// DeadlockAvailability once concurrency reaches DeadlockThreshold.
type TimedDependency struct {
	StageCore
	cfg           DependencyConfig
	rng           *rand.Rand
	concurrent    int
	maxConcurrent int
}

// NewTimedDependency creates a dependency stage.
// Panics on a negative standard deviation or probabilities outside [0,1].
func NewTimedDependency(ctx *SimulationContext, name string, cfg DependencyConfig) *TimedDependency {
	if cfg.Std < 0 {
		panic(fmt.Sprintf("NewTimedDependency %q: std must be non-negative, got %f", name, cfg.Std))
	}
	checkProbability("NewTimedDependency "+name+": availability", cfg.Availability)
	checkProbability("NewTimedDependency "+name+": deadlock availability", cfg.DeadlockAvailability)
	if cfg.DeadlockThreshold < 0 {
		panic(fmt.Sprintf("NewTimedDependency %q: deadlock threshold must be non-negative, got %d", name, cfg.DeadlockThreshold))
	}
	return &TimedDependency{
		StageCore: newStageCore(ctx, name),
		cfg:       cfg,
		rng:       ctx.StageRNG(name),
	}
}

// Accept runs admission and then the modeled call.
func (d *TimedDependency) Accept(ev *Event, done Done) {
	d.process(ev, d, done)
}

// WorkOn holds the call for the sampled latency and then resolves it.
func (d *TimedDependency) WorkOn(ev *Event, done Done) {
	d.concurrent++
	d.maxConcurrent = max(d.maxConcurrent, d.concurrent)
	if d.deadlocked() {
		d.ctx.Counters.Add(d.name+".deadlocked", 1)
	}

	latency := d.sampleLatency()
	d.ctx.Clock.Wait(latency, func() {
		availability := d.cfg.Availability
		if d.deadlocked() {
			availability = d.cfg.DeadlockAvailability
		}
		d.concurrent--
		if !Bernoulli(d.rng, availability) {
			logrus.Debugf("[tick %07d] %s unavailable for %s", d.ctx.Now(), d.name, ev.ID)
			done(ErrUnavailable)
			return
		}
		done(nil)
	})
}

func (d *TimedDependency) deadlocked() bool {
	return d.cfg.DeadlockThreshold > 0 && d.concurrent >= d.cfg.DeadlockThreshold
}

func (d *TimedDependency) sampleLatency() float64 {
	var extra float64
	if d.cfg.LatencyX0 > 0 {
		extra = Exponential(d.cfg.LatencyX0, d.cfg.LatencyR, d.concurrent)
	}
	return Normal(d.rng, d.cfg.Mean+extra, d.cfg.Std+extra/500)
}

// SetAvailability changes the availability at runtime, e.g. to model an outage.
func (d *TimedDependency) SetAvailability(p float64) {
	checkProbability("SetAvailability", p)
	d.cfg.Availability = p
}

// Availability returns the configured availability.
func (d *TimedDependency) Availability() float64 {
	return d.cfg.Availability
}

// Concurrent returns the number of calls in progress.
func (d *TimedDependency) Concurrent() int {
	return d.concurrent
}

// MaxConcurrent returns the highest concurrency observed.
func (d *TimedDependency) MaxConcurrent() int {
	return d.maxConcurrent
}

// LatencyStage adds sampled processing latency before delegating to an inner
// stage, like a receiver doing some work before it calls its database. It is
// usually given an unbounded queue and a worker pool.
type LatencyStage struct {
	StageCore
	inner Stage
	cfg   LatencyConfig
	rng   *rand.Rand
}

// NewLatencyStage creates a processing stage in front of inner.
func NewLatencyStage(ctx *SimulationContext, name string, inner Stage, cfg LatencyConfig) *LatencyStage {
	if inner == nil {
		panic(fmt.Sprintf("NewLatencyStage %q: inner stage must not be nil", name))
	}
	if cfg.Std < 0 {
		panic(fmt.Sprintf("NewLatencyStage %q: std must be non-negative, got %f", name, cfg.Std))
	}
	return &LatencyStage{
		StageCore: newStageCore(ctx, name),
		inner:     inner,
		cfg:       cfg,
		rng:       ctx.StageRNG(name),
	}
}

// Accept runs admission and then the processing work.
func (s *LatencyStage) Accept(ev *Event, done Done) {
	s.process(ev, s, done)
}

// WorkOn waits for the processing latency and then hands the event inward.
func (s *LatencyStage) WorkOn(ev *Event, done Done) {
	s.ctx.Clock.Wait(Normal(s.rng, s.cfg.Mean, s.cfg.Std), func() {
		s.inner.Accept(ev, done)
	})
}

// Inner returns the wrapped stage.
func (s *LatencyStage) Inner() Stage {
	return s.inner
}

func checkProbability(what string, p float64) {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("%s must be in [0,1], got %f", what, p))
	}
}
