package sim

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/inference-sim/resilience-sim/sim/trace"
)

// runNamespace scopes run IDs derived from simulation keys.
var runNamespace = uuid.MustParse("6f1c8e52-3b7a-4d0e-9a51-2c4f7d8e9b10")

// SimulationContext is everything a run shares: the clock, the named counters,
// the partitioned RNG and the decision trace. It is built once per run and
// threaded through stage construction, so independent runs never interfere and
// can execute in parallel goroutines.
type SimulationContext struct {
	RunID    string
	Clock    *Clock
	Counters *Counters
	RNG      *PartitionedRNG
	Trace    *trace.SimulationTrace

	entropy *ulid.MonotonicEntropy
}

// NewSimulationContext creates a context at tick 0. The run ID is derived from
// the key, so reruns with the same seed carry the same ID.
func NewSimulationContext(key SimulationKey) *SimulationContext {
	rng := NewPartitionedRNG(key)
	return &SimulationContext{
		RunID:    uuid.NewSHA1(runNamespace, []byte(fmt.Sprintf("%d", int64(key)))).String(),
		Clock:    NewClock(),
		Counters: NewCounters(),
		RNG:      rng,
		entropy:  ulid.Monotonic(rng.Stream(StreamIDs), 0),
	}
}

// EnableTrace attaches a decision trace at the given level.
func (c *SimulationContext) EnableTrace(level trace.TraceLevel) *trace.SimulationTrace {
	c.Trace = trace.NewSimulationTrace(trace.TraceConfig{Level: level})
	return c.Trace
}

// Now returns the current tick.
func (c *SimulationContext) Now() int64 {
	return c.Clock.Now()
}

// NewEventID returns a ULID whose timestamp component is the current tick.
// IDs sort by arrival and are reproducible for a given key.
func (c *SimulationContext) NewEventID() string {
	return ulid.MustNew(uint64(c.Clock.Now()), c.entropy).String()
}

// StageRNG returns the random stream of the named stage.
func (c *SimulationContext) StageRNG(name string) *rand.Rand {
	return c.RNG.Stream(StageStream(name))
}
