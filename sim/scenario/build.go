package scenario

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/resilience-sim/sim"
)

// Pipeline is a built scenario pipeline.
type Pipeline struct {
	Root   sim.Stage
	Stages []sim.Stage // outermost first, as declared
	byName map[string]sim.Stage
}

// Stage returns the stage with the given name, or nil.
func (p *Pipeline) Stage(name string) sim.Stage {
	return p.byName[name]
}

// queueSetter is implemented by every stage that embeds sim.StageCore.
type queueSetter interface {
	SetQueue(q *sim.Queue)
}

// Build constructs the pipeline of s in ctx, innermost stage first. The spec
// must have passed Validate.
func Build(ctx *sim.SimulationContext, s *Spec) (*Pipeline, error) {
	n := len(s.Pipeline)
	if n == 0 {
		return nil, fmt.Errorf("pipeline must declare at least one stage")
	}

	queues := make([]*sim.Queue, n)
	for i, st := range s.Pipeline {
		if st.Queue == nil {
			continue
		}
		capacity := sim.UnboundedCapacity
		if st.Queue.Capacity != nil {
			capacity = *st.Queue.Capacity
		}
		queues[i] = sim.NewQueue(capacity, st.Queue.Workers)
	}

	p := &Pipeline{Stages: make([]sim.Stage, n), byName: make(map[string]sim.Stage, n)}
	var inner sim.Stage
	for i := n - 1; i >= 0; i-- {
		st := s.Pipeline[i]
		stage, err := buildStage(ctx, st, inner, enclosingQueue(queues, i))
		if err != nil {
			return nil, fmt.Errorf("pipeline[%d] (%s): %w", i, st.Name, err)
		}
		if queues[i] != nil {
			stage.(queueSetter).SetQueue(queues[i])
		}
		p.Stages[i] = stage
		p.byName[st.Name] = stage
		inner = stage
	}
	p.Root = p.Stages[0]
	return p, nil
}

// enclosingQueue returns the queue of the nearest outer stage that declares one.
func enclosingQueue(queues []*sim.Queue, idx int) *sim.Queue {
	for i := idx - 1; i >= 0; i-- {
		if queues[i] != nil {
			return queues[i]
		}
	}
	return nil
}

func buildStage(ctx *sim.SimulationContext, st StageSpec, inner sim.Stage, outerQueue *sim.Queue) (sim.Stage, error) {
	switch st.Type {
	case TypeDependency:
		return sim.NewTimedDependency(ctx, st.Name, dependencyConfig(st.Dependency)), nil
	case TypeLatency:
		return sim.NewLatencyStage(ctx, st.Name, inner, sim.LatencyConfig{Mean: st.Latency.Mean, Std: st.Latency.Std}), nil
	case TypeCircuitBreaker:
		return sim.NewCircuitBreaker(ctx, st.Name, inner, breakerConfig(st.Breaker)), nil
	case TypeAdaptiveBreaker:
		if outerQueue == nil {
			return nil, fmt.Errorf("adaptive circuit breaker needs an enclosing stage with a queue")
		}
		return sim.NewAdaptiveCircuitBreaker(ctx, st.Name, inner, breakerConfig(st.Breaker),
			outerQueue, adaptiveConfig(st.Adaptive, outerQueue.Workers())), nil
	case TypeRetry:
		return sim.NewRetry(ctx, st.Name, inner, st.Attempts), nil
	case TypeTimeout:
		return sim.NewTimeout(ctx, st.Name, inner, st.Timeout), nil
	case TypeCache:
		return sim.NewCacheStage(ctx, st.Name, inner, cacheConfig(st.Cache)), nil
	case TypeQoSCache:
		return sim.NewQoSCache(ctx, st.Name, inner, qosConfig(st.QoS)), nil
	default:
		return nil, fmt.Errorf("unknown type %q", st.Type)
	}
}

func dependencyConfig(d *DependencySpec) sim.DependencyConfig {
	cfg := sim.DependencyConfig{
		Mean:                 d.Mean,
		Std:                  d.Std,
		Availability:         1,
		LatencyX0:            d.LatencyX0,
		LatencyR:             d.LatencyR,
		DeadlockThreshold:    d.DeadlockThreshold,
		DeadlockAvailability: d.DeadlockAvailability,
	}
	if d.Availability != nil {
		cfg.Availability = *d.Availability
	}
	return cfg
}

func breakerConfig(b *BreakerSpec) sim.BreakerConfig {
	cfg := sim.DefaultBreakerConfig()
	if b == nil {
		return cfg
	}
	if b.Window > 0 {
		// time-windowed rings are uncapped unless a capacity is given
		cfg.Window = b.Window
		cfg.Capacity = 0
	}
	if b.Capacity != 0 {
		cfg.Capacity = b.Capacity
	}
	if b.MinSamples != 0 {
		cfg.MinSamples = b.MinSamples
	}
	if b.ErrorThreshold != nil {
		cfg.ErrorThreshold = *b.ErrorThreshold
	}
	if b.TimeInOpenState != 0 {
		cfg.TimeInOpenState = b.TimeInOpenState
	}
	return cfg
}

func adaptiveConfig(a *AdaptiveSpec, workers int) sim.AdaptiveConfig {
	cfg := sim.DefaultAdaptiveConfig(workers)
	if a == nil {
		return cfg
	}
	if a.ClosedWorkers != 0 {
		cfg.ClosedWorkers = a.ClosedWorkers
	}
	if a.HalfOpenWorkers != 0 {
		cfg.HalfOpenWorkers = a.HalfOpenWorkers
	}
	if a.OpenWorkers != 0 {
		cfg.OpenWorkers = a.OpenWorkers
	}
	return cfg
}

func cacheConfig(c *CacheSpec) sim.CacheConfig {
	cfg := sim.DefaultQoSConfig().Cache
	if c == nil {
		return cfg
	}
	if c.Capacity != 0 {
		cfg.Capacity = c.Capacity
	}
	if c.TTL != 0 {
		cfg.TTL = c.TTL
	}
	return cfg
}

func qosConfig(q *QoSSpec) sim.QoSConfig {
	cfg := sim.DefaultQoSConfig()
	if q == nil {
		return cfg
	}
	cfg.Cache = cacheConfig(&q.Cache)
	if q.LatencyMidpoint != 0 {
		cfg.LatencyMidpoint = q.LatencyMidpoint
	}
	if q.LatencySteepness != 0 {
		cfg.LatencySteepness = q.LatencySteepness
	}
	if q.AgeMidpoint != 0 {
		cfg.AgeMidpoint = q.AgeMidpoint
	}
	if q.AgeSteepness != 0 {
		cfg.AgeSteepness = q.AgeSteepness
	}
	if q.FailFastValue != nil {
		cfg.FailFastValue = *q.FailFastValue
	}
	if q.ModelCapacity != 0 {
		cfg.ModelCapacity = q.ModelCapacity
	}
	if q.ModelHalfLife != nil {
		cfg.ModelHalfLife = *q.ModelHalfLife
	}
	return cfg
}

// Result is the outcome of running a scenario.
type Result struct {
	Context  *sim.SimulationContext
	Pipeline *Pipeline
	Events   []*sim.Event
}

// Run validates s, builds it in a fresh context seeded from s.Seed, schedules
// its shocks and runs it. configure, when non-nil, is called with the context
// before the pipeline is built (e.g. to enable tracing).
func Run(s *Spec, configure func(ctx *sim.SimulationContext)) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	ctx := sim.NewSimulationContext(sim.NewSimulationKey(s.Seed))
	if configure != nil {
		configure(ctx)
	}
	p, err := Build(ctx, s)
	if err != nil {
		return nil, err
	}
	simulation := sim.NewSimulation(ctx, s.ArrivalConfig())
	scheduleShocks(ctx, simulation, p, s.Shocks)

	events, err := simulation.Run(p.Root, s.RunConfig())
	if err != nil {
		return nil, err
	}
	return &Result{Context: ctx, Pipeline: p, Events: events}, nil
}

func scheduleShocks(ctx *sim.SimulationContext, simulation *sim.Simulation, p *Pipeline, shocks []ShockSpec) {
	for _, sh := range shocks {
		sh := sh
		ctx.Clock.ScheduleAfter(sh.At-ctx.Now(), func() {
			if sh.Availability != nil {
				if dep, ok := p.Stage(sh.Stage).(*sim.TimedDependency); ok {
					logrus.Infof("[tick %07d] shock: %s availability %.3f -> %.3f", ctx.Now(), sh.Stage, dep.Availability(), *sh.Availability)
					dep.SetAvailability(*sh.Availability)
				}
			}
			if sh.Rate != nil {
				logrus.Infof("[tick %07d] shock: arrival rate %.1f -> %.1f", ctx.Now(), simulation.ArrivalRate(), *sh.Rate)
				simulation.SetArrivalRate(*sh.Rate)
			}
		})
	}
}
