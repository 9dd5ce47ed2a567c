// sim/simulation.go
package sim

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/resilience-sim/sim/workload"
)

// Simulation generates arrivals at a configured rate and key distribution,
// submits them to a root stage and collects the resolved events.
type Simulation struct {
	ctx        *SimulationContext
	cfg        ArrivalConfig
	arrivals   workload.ArrivalSampler
	keys       *workload.KeySampler
	arrivalRNG *rand.Rand
	keyRNG     *rand.Rand
}

// NewSimulation creates an engine bound to ctx.
// Panics on a negative rate, an unknown arrival process or a negative key std.
func NewSimulation(ctx *SimulationContext, cfg ArrivalConfig) *Simulation {
	if ctx == nil {
		panic("NewSimulation: context must not be nil")
	}
	if cfg.EventsPer1000Ticks < 0 {
		panic(fmt.Sprintf("NewSimulation: arrival rate must be non-negative, got %f", cfg.EventsPer1000Ticks))
	}
	if err := workload.ValidateProcess(cfg.Process); err != nil {
		panic(fmt.Sprintf("NewSimulation: %v", err))
	}
	keys, err := workload.NewKeySampler(cfg.KeyMean, cfg.KeyStd)
	if err != nil {
		panic(fmt.Sprintf("NewSimulation: %v", err))
	}
	s := &Simulation{
		ctx:        ctx,
		cfg:        cfg,
		keys:       keys,
		arrivalRNG: ctx.RNG.Stream(StreamArrivals),
		keyRNG:     ctx.RNG.Stream(StreamKeys),
	}
	s.arrivals = workload.NewArrivalSampler(cfg.Process, cfg.EventsPer1000Ticks, cfg.CV)
	return s
}

// SetArrivalRate changes the rate, in events per 1000 ticks. It may be called
// from a scheduled callback to model a load spike in the middle of a run.
func (s *Simulation) SetArrivalRate(eventsPer1000Ticks float64) {
	if eventsPer1000Ticks < 0 {
		panic(fmt.Sprintf("SetArrivalRate: rate must be non-negative, got %f", eventsPer1000Ticks))
	}
	s.cfg.EventsPer1000Ticks = eventsPer1000Ticks
	s.arrivals = workload.NewArrivalSampler(s.cfg.Process, eventsPer1000Ticks, s.cfg.CV)
}

// ArrivalRate returns the current rate in events per 1000 ticks.
func (s *Simulation) ArrivalRate() float64 {
	return s.cfg.EventsPer1000Ticks
}

// Context returns the simulation context.
func (s *Simulation) Context() *SimulationContext {
	return s.ctx
}

// Run drives root with arrivals for rc.Ticks ticks (or until rc.Events events
// were issued) and then lets in-flight events drain for up to rc.DrainTicks.
// It returns the resolved events in completion order; events still in flight
// when the drain limit is reached are not included. Background work left
// behind by timeouts is discarded when Run returns.
func (s *Simulation) Run(root Stage, rc RunConfig) ([]*Event, error) {
	if root == nil {
		return nil, fmt.Errorf("run: root stage must not be nil")
	}
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	drain := rc.DrainTicks
	if drain == 0 {
		drain = DefaultDrainTicks
	}

	clock := s.ctx.Clock
	start := clock.Now()
	horizon := start + rc.Ticks
	logrus.Infof("[tick %07d] run %s: %.1f events/1000 ticks (%s), horizon %d ticks, root %s",
		start, s.ctx.RunID, s.cfg.EventsPer1000Ticks, processName(s.cfg.Process), rc.Ticks, root.Name())

	var completed []*Event
	issued, inFlight := 0, 0
	arrivalsDone := false
	nextArrival := -1.0 // unsampled while the rate is zero

	generator := clock.Every(1, func() {
		now := clock.Now()
		if s.cfg.EventsPer1000Ticks <= 0 {
			nextArrival = -1
		} else if nextArrival < 0 {
			nextArrival = float64(now) + s.arrivals.SampleIAT(s.arrivalRNG)
		}
		for nextArrival >= 0 && float64(now) >= nextArrival {
			if now >= horizon || (rc.Events > 0 && issued >= rc.Events) {
				break
			}
			ev := NewEvent(s.ctx.NewEventID(), s.keys.Sample(s.keyRNG), now)
			issued++
			inFlight++
			nextArrival += s.arrivals.SampleIAT(s.arrivalRNG)
			root.Accept(ev, func(error) {
				inFlight--
				completed = append(completed, ev)
			})
		}
		if now >= horizon-1 || (rc.Events > 0 && issued >= rc.Events) {
			arrivalsDone = true
		}
	})
	clock.RunUntil(func() bool { return arrivalsDone }, rc.Ticks)
	generator.Stop()

	clock.RunUntil(func() bool { return inFlight == 0 }, drain)
	if inFlight > 0 {
		logrus.Warnf("[tick %07d] drain limit of %d ticks reached with %d events in flight", clock.Now(), drain, inFlight)
	}
	clock.Clear()

	logrus.Infof("[tick %07d] run %s: issued %d, completed %d", clock.Now(), s.ctx.RunID, issued, len(completed))
	return completed, nil
}

func processName(p string) string {
	if p == "" {
		return workload.ProcessConstant
	}
	return p
}
