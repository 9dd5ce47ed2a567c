package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/resilience-sim/sim/trace"
)

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// ringSample is one recorded outcome: 0 = success, 1 = failure.
type ringSample struct {
	failed int
	tick   int64
}

// CircuitBreaker guards an inner stage with the closed / open / half-open
// state machine.
//
// Closed and half-open pass calls through and record each completion in a
// ring. Once the ring holds its minimum fill, a failure rate strictly above
// ErrorThreshold opens the breaker; in half-open any other rate closes it.
// Open rejects immediately with ErrBreakerOpen, without touching the inner
// stage, until more than TimeInOpenState ticks have passed since opening; the
// next evaluation then moves to half-open. Every transition empties the ring.
//
// With Window == 0 the ring keeps the last Capacity outcomes and must be full
// to be evaluated. With Window > 0 outcomes older than Window ticks fall out,
// the ring is evaluated once it holds MinSamples outcomes, and Capacity (if
// set) still caps its length.
type CircuitBreaker struct {
	StageCore
	inner     Stage
	cfg       BreakerConfig
	state     BreakerState
	ring      []ringSample
	openedAt  int64
	rejectErr error
	listeners []func(from, to BreakerState)
}

// NewCircuitBreaker creates a breaker in the closed state around inner.
// Panics on an invalid configuration.
func NewCircuitBreaker(ctx *SimulationContext, name string, inner Stage, cfg BreakerConfig) *CircuitBreaker {
	if inner == nil {
		panic(fmt.Sprintf("NewCircuitBreaker %q: inner stage must not be nil", name))
	}
	if err := validateBreaker(cfg); err != nil {
		panic(fmt.Sprintf("NewCircuitBreaker %q: %v", name, err))
	}
	return &CircuitBreaker{
		StageCore: newStageCore(ctx, name),
		inner:     inner,
		cfg:       cfg,
		state:     StateClosed,
		rejectErr: fmt.Errorf("%s: %w", name, ErrBreakerOpen),
	}
}

func validateBreaker(cfg BreakerConfig) error {
	if cfg.ErrorThreshold < 0 || cfg.ErrorThreshold > 1 {
		return fmt.Errorf("error threshold must be in [0,1], got %f", cfg.ErrorThreshold)
	}
	if cfg.Capacity < 0 {
		return fmt.Errorf("capacity must be non-negative, got %d", cfg.Capacity)
	}
	if cfg.Window < 0 {
		return fmt.Errorf("window must be non-negative, got %d", cfg.Window)
	}
	if cfg.Window == 0 && cfg.Capacity == 0 {
		return fmt.Errorf("count ring needs a positive capacity")
	}
	if cfg.Window > 0 && cfg.MinSamples < 1 {
		return fmt.Errorf("time-windowed ring needs a positive min samples, got %d", cfg.MinSamples)
	}
	if cfg.Window > 0 && cfg.Capacity > 0 && cfg.MinSamples > cfg.Capacity {
		return fmt.Errorf("min samples %d can never be reached with capacity %d", cfg.MinSamples, cfg.Capacity)
	}
	if cfg.TimeInOpenState < 0 {
		return fmt.Errorf("time in open state must be non-negative, got %d", cfg.TimeInOpenState)
	}
	return nil
}

// Accept runs admission and then the breaker logic.
func (c *CircuitBreaker) Accept(ev *Event, done Done) {
	c.process(ev, c, done)
}

// WorkOn fails fast while open and delegates to the inner stage otherwise.
func (c *CircuitBreaker) WorkOn(ev *Event, done Done) {
	c.evaluate()
	if c.state == StateOpen {
		c.recordRejection(ev, c.rejectErr)
		done(c.rejectErr)
		return
	}
	c.inner.Accept(ev, done)
}

// OnSuccess records a success into the ring.
func (c *CircuitBreaker) OnSuccess(_ *Event) {
	c.record(0)
	c.evaluate()
}

// OnFailure records a failure into the ring. The breaker's own fast failures
// and rejections by its own queue are not samples of the inner stage and only
// trigger an evaluation.
func (c *CircuitBreaker) OnFailure(_ *Event, err error) {
	if err != c.rejectErr && !c.rejectedHere(err) {
		c.record(1)
	}
	c.evaluate()
}

func (c *CircuitBreaker) record(failed int) {
	c.ring = append(c.ring, ringSample{failed: failed, tick: c.ctx.Now()})
	c.evict()
}

// evict drops samples that fell out of the window or exceed the capacity.
func (c *CircuitBreaker) evict() {
	drop := 0
	if c.cfg.Window > 0 {
		oldest := c.ctx.Now() - c.cfg.Window
		for drop < len(c.ring) && c.ring[drop].tick < oldest {
			drop++
		}
	}
	if c.cfg.Capacity > 0 && len(c.ring)-drop > c.cfg.Capacity {
		drop = len(c.ring) - c.cfg.Capacity
	}
	if drop > 0 {
		c.ring = append(c.ring[:0], c.ring[drop:]...)
	}
}

func (c *CircuitBreaker) filled() bool {
	if c.cfg.Window > 0 {
		return len(c.ring) >= c.cfg.MinSamples
	}
	return len(c.ring) >= c.cfg.Capacity
}

// FailureRate returns the mean of the ring, or 0 when it is empty.
func (c *CircuitBreaker) FailureRate() float64 {
	if len(c.ring) == 0 {
		return 0
	}
	sum := 0
	for _, s := range c.ring {
		sum += s.failed
	}
	return float64(sum) / float64(len(c.ring))
}

// evaluate applies the state machine to the current ring and clock.
func (c *CircuitBreaker) evaluate() {
	if c.cfg.Window > 0 {
		c.evict()
	}
	switch c.state {
	case StateClosed:
		if c.filled() {
			if rate := c.FailureRate(); rate > c.cfg.ErrorThreshold {
				c.transition(StateOpen, rate)
			}
		}
	case StateOpen:
		if c.ctx.Now()-c.openedAt > c.cfg.TimeInOpenState {
			c.transition(StateHalfOpen, 0)
		}
	case StateHalfOpen:
		if c.filled() {
			if rate := c.FailureRate(); rate > c.cfg.ErrorThreshold {
				c.transition(StateOpen, rate)
			} else {
				c.transition(StateClosed, rate)
			}
		}
	}
}

func (c *CircuitBreaker) transition(to BreakerState, rate float64) {
	from := c.state
	now := c.ctx.Now()
	c.state = to
	c.ring = c.ring[:0]
	if to == StateOpen {
		c.openedAt = now
	}
	logrus.Debugf("[tick %07d] %s %s -> %s (failure rate %.3f)", now, c.name, from, to, rate)
	c.ctx.Counters.Add(c.name+"."+string(to), 1)
	c.ctx.Trace.RecordTransition(trace.TransitionRecord{
		Stage:       c.name,
		Clock:       now,
		From:        string(from),
		To:          string(to),
		FailureRate: rate,
	})
	for _, fn := range c.listeners {
		fn(from, to)
	}
}

// OnTransition registers fn to run after every state change.
func (c *CircuitBreaker) OnTransition(fn func(from, to BreakerState)) {
	c.listeners = append(c.listeners, fn)
}

// Open forces the breaker open, as an operator would. It is a no-op when the
// breaker is already open.
func (c *CircuitBreaker) Open() {
	if c.state != StateOpen {
		c.transition(StateOpen, c.FailureRate())
	}
}

// State returns the current state.
func (c *CircuitBreaker) State() BreakerState {
	return c.state
}

// OpenedAt returns the tick of the most recent opening.
func (c *CircuitBreaker) OpenedAt() int64 {
	return c.openedAt
}

// Ring returns a copy of the recorded outcomes, oldest first (0 = success, 1 = failure).
func (c *CircuitBreaker) Ring() []int {
	out := make([]int, len(c.ring))
	for i, s := range c.ring {
		out[i] = s.failed
	}
	return out
}

// Inner returns the wrapped stage.
func (c *CircuitBreaker) Inner() Stage {
	return c.inner
}

// AdaptiveCircuitBreaker is a CircuitBreaker that also resizes the worker pool
// of an upstream queue in lockstep with its state: the pool shrinks sharply
// on open and recovers through half-open, shedding load before it reaches the
// breaker instead of only failing it fast.
type AdaptiveCircuitBreaker struct {
	*CircuitBreaker
	queue *Queue
	cfg   AdaptiveConfig
}

// NewAdaptiveCircuitBreaker creates a breaker that governs the workers of queue.
// Panics on a nil queue or a non-positive per-state worker count.
func NewAdaptiveCircuitBreaker(ctx *SimulationContext, name string, inner Stage, cfg BreakerConfig, queue *Queue, adaptive AdaptiveConfig) *AdaptiveCircuitBreaker {
	if queue == nil {
		panic(fmt.Sprintf("NewAdaptiveCircuitBreaker %q: queue must not be nil", name))
	}
	if adaptive.ClosedWorkers < 1 || adaptive.HalfOpenWorkers < 1 || adaptive.OpenWorkers < 1 {
		panic(fmt.Sprintf("NewAdaptiveCircuitBreaker %q: worker counts must be positive, got %+v", name, adaptive))
	}
	a := &AdaptiveCircuitBreaker{
		CircuitBreaker: NewCircuitBreaker(ctx, name, inner, cfg),
		queue:          queue,
		cfg:            adaptive,
	}
	queue.SetWorkers(adaptive.ClosedWorkers)
	a.OnTransition(func(_, to BreakerState) {
		a.queue.SetWorkers(a.workersFor(to))
	})
	return a
}

func (a *AdaptiveCircuitBreaker) workersFor(state BreakerState) int {
	switch state {
	case StateOpen:
		return a.cfg.OpenWorkers
	case StateHalfOpen:
		return a.cfg.HalfOpenWorkers
	default:
		return a.cfg.ClosedWorkers
	}
}

// GovernedQueue returns the queue whose workers follow the breaker state.
func (a *AdaptiveCircuitBreaker) GovernedQueue() *Queue {
	return a.queue
}
