package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/resilience-sim/sim"
	"github.com/inference-sim/resilience-sim/sim/trace"
)

const canonical = `
seed: 7
arrivals:
  rate: 200
  key_mean: 1000
  key_std: 200
run:
  ticks: 10000
pipeline:
  - name: db
    type: dependency
    dependency:
      mean: 20
      std: 4
`

func TestLoad_ValidYAML_LoadsCorrectly(t *testing.T) {
	// GIVEN a scenario file on disk
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(canonical), 0644))

	// WHEN it is loaded
	spec, err := Load(path)

	// THEN every block is decoded
	require.NoError(t, err)
	assert.Equal(t, int64(7), spec.Seed)
	assert.Equal(t, 200.0, spec.Arrivals.Rate)
	assert.Equal(t, int64(10000), spec.Run.Ticks)
	require.Len(t, spec.Pipeline, 1)
	assert.Equal(t, TypeDependency, spec.Pipeline[0].Type)
	assert.Nil(t, spec.Pipeline[0].Dependency.Availability)
	assert.NoError(t, spec.Validate())
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_UnknownField_Rejected(t *testing.T) {
	// GIVEN a typo in a stage block
	data := []byte(`
run: {ticks: 100}
pipeline:
  - name: db
    type: dependency
    dependency: {mean: 20, stdev: 4}
`)
	// WHEN parsed
	_, err := Parse(data)

	// THEN strict decoding refuses it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdev")
}

func TestValidate_RejectsInvalidScenarios(t *testing.T) {
	half := 0.5
	two := 2.0
	negative := -1
	tests := []struct {
		name   string
		mutate func(s *Spec)
		want   string
	}{
		{"version", func(s *Spec) { s.Version = "9" }, "version"},
		{"zero ticks", func(s *Spec) { s.Run.Ticks = 0 }, "ticks must be positive"},
		{"zero ticks with event target", func(s *Spec) { s.Run.Ticks = 0; s.Run.Events = 10 }, "targeting 10 events"},
		{"negative rate", func(s *Spec) { s.Arrivals.Rate = -1 }, "arrivals.rate"},
		{"unknown process", func(s *Spec) { s.Arrivals.Process = "bursty" }, "arrivals.process"},
		{"empty pipeline", func(s *Spec) { s.Pipeline = nil }, "at least one stage"},
		{"unknown type", func(s *Spec) {
			s.Pipeline = append([]StageSpec{{Name: "x", Type: "bulkhead"}}, s.Pipeline...)
		}, "unknown type"},
		{"leaf not last", func(s *Spec) {
			s.Pipeline = append(s.Pipeline, StageSpec{Name: "r", Type: TypeRetry, Attempts: 2})
		}, "must be listed last"},
		{"duplicate name", func(s *Spec) {
			s.Pipeline = append([]StageSpec{{Name: "db", Type: TypeRetry, Attempts: 2}}, s.Pipeline...)
		}, "duplicate stage name"},
		{"retry attempts", func(s *Spec) {
			s.Pipeline = append([]StageSpec{{Name: "r", Type: TypeRetry}}, s.Pipeline...)
		}, "attempts must be >= 1"},
		{"timeout", func(s *Spec) {
			s.Pipeline = append([]StageSpec{{Name: "t", Type: TypeTimeout}}, s.Pipeline...)
		}, "timeout must be >= 1"},
		{"breaker threshold", func(s *Spec) {
			s.Pipeline = append([]StageSpec{{Name: "cb", Type: TypeCircuitBreaker, Breaker: &BreakerSpec{ErrorThreshold: &two}}}, s.Pipeline...)
		}, "error_threshold"},
		{"adaptive without queue", func(s *Spec) {
			s.Pipeline = append([]StageSpec{{Name: "cb", Type: TypeAdaptiveBreaker}}, s.Pipeline...)
		}, "enclosing stage with a queue"},
		{"queue workers", func(s *Spec) { s.Pipeline[0].Queue = &QueueSpec{Workers: 0} }, "workers must be >= 1"},
		{"queue capacity", func(s *Spec) { s.Pipeline[0].Queue = &QueueSpec{Capacity: &negative, Workers: 1} }, "capacity must be non-negative"},
		{"availability", func(s *Spec) { s.Pipeline[0].Dependency.Availability = &two }, "availability must be in [0,1]"},
		{"shock on non-dependency", func(s *Spec) {
			s.Shocks = []ShockSpec{{At: 10, Stage: "nope", Availability: &half}}
		}, "needs a dependency stage"},
		{"empty shock", func(s *Spec) { s.Shocks = []ShockSpec{{At: 10}} }, "availability, rate or both"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := Parse([]byte(canonical))
			require.NoError(t, err)
			tc.mutate(spec)

			err = spec.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestBuild_ComposesOutermostFirst(t *testing.T) {
	// GIVEN a receiver with a queue, an adaptive breaker, a retry and a dependency
	threshold := 0.5
	spec := &Spec{
		Seed:     1,
		Arrivals: ArrivalSpec{Rate: 100},
		Run:      RunSpec{Ticks: 100},
		Pipeline: []StageSpec{
			{Name: "receiver", Type: TypeLatency, Latency: &LatencySpec{Mean: 5, Std: 1}, Queue: &QueueSpec{Workers: 20}},
			{Name: "cb", Type: TypeAdaptiveBreaker, Breaker: &BreakerSpec{ErrorThreshold: &threshold}},
			{Name: "retry", Type: TypeRetry, Attempts: 3},
			{Name: "db", Type: TypeDependency, Dependency: &DependencySpec{Mean: 20, Std: 4}},
		},
	}
	require.NoError(t, spec.Validate())

	// WHEN built
	p, err := Build(sim.NewSimulationContext(sim.NewSimulationKey(1)), spec)
	require.NoError(t, err)

	// THEN the root is the first declared stage and each wraps the next
	receiver, ok := p.Root.(*sim.LatencyStage)
	require.True(t, ok)
	cb, ok := receiver.Inner().(*sim.AdaptiveCircuitBreaker)
	require.True(t, ok)
	retry, ok := cb.Inner().(*sim.Retry)
	require.True(t, ok)
	assert.Equal(t, 3, retry.Attempts())
	assert.Same(t, p.Stage("db"), retry.Inner())

	// AND the receiver queue is unbounded and governed by the breaker
	require.NotNil(t, receiver.Queue())
	assert.Equal(t, sim.UnboundedCapacity, receiver.Queue().Capacity())
	assert.Same(t, receiver.Queue(), cb.GovernedQueue())
	assert.Equal(t, 20, receiver.Queue().Workers())
	assert.Equal(t, []string{"receiver", "cb", "retry", "db"}, stageNames(p.Stages))
}

func TestBreakerConfig_Defaults(t *testing.T) {
	assert.Equal(t, sim.DefaultBreakerConfig(), breakerConfig(nil))

	// a time-windowed ring is uncapped unless asked otherwise
	cfg := breakerConfig(&BreakerSpec{Window: 500})
	assert.Equal(t, int64(500), cfg.Window)
	assert.Equal(t, 0, cfg.Capacity)
	assert.Equal(t, 20, cfg.MinSamples)
}

func TestRun_CanonicalDependency_NoFailures(t *testing.T) {
	// GIVEN the canonical single dependency at 200 arrivals per 1000 ticks
	spec, err := Parse([]byte(canonical))
	require.NoError(t, err)

	// WHEN run
	res, err := Run(spec, nil)
	require.NoError(t, err)

	// THEN nothing fails and latency centres on the dependency mean
	summary := sim.SummarizeEvents(res.Events)
	assert.Greater(t, summary.Count, 1900)
	assert.Equal(t, 0, summary.Failed)
	assert.InDelta(t, 20, summary.MeanLatency, 1.0)
}

func TestRun_AvailabilityShock_OpensBreaker(t *testing.T) {
	// GIVEN a breaker whose dependency fails completely from tick 5000
	spec, err := Load(filepath.Join("testdata", "breaker_shock.yaml"))
	require.NoError(t, err)

	// WHEN run with decision tracing
	res, err := Run(spec, func(ctx *sim.SimulationContext) { ctx.EnableTrace(trace.TraceLevelDecisions) })
	require.NoError(t, err)

	// THEN nothing resolves as failed before the shock
	for _, ev := range res.Events {
		if !ev.Succeeded() {
			require.GreaterOrEqual(t, ev.EndTick, int64(5000), "event %s failed before the shock", ev.ID)
		}
	}
	// AND the breaker opened and failed calls fast
	assert.GreaterOrEqual(t, res.Context.Counters.Get("cb.open"), 1.0)
	cb := res.Pipeline.Stage("cb").(*sim.CircuitBreaker)
	assert.Greater(t, cb.Stats().FailuresByCause[sim.CauseBreakerOpen], 0)
	assert.NotEmpty(t, res.Context.Trace.TransitionsTo("cb", "open"))
	// AND a run from the same file is identical
	again, err := Run(spec, nil)
	require.NoError(t, err)
	assert.Equal(t, len(res.Events), len(again.Events))
	assert.Equal(t, res.Context.RunID, again.Context.RunID)
}

func stageNames(stages []sim.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names
}

func TestBuild_QueueCapacityCountsInFlight(t *testing.T) {
	// GIVEN a dependency with ten workers and room for one waiting event
	s, err := Parse([]byte(`
seed: 1
arrivals: {rate: 200, key_mean: 1000, key_std: 200}
run: {ticks: 100}
pipeline:
  - {name: cb, type: circuit-breaker, breaker: {capacity: 10, error_threshold: 0.3}}
  - {name: db, type: dependency, queue: {capacity: 11, workers: 10},
     dependency: {mean: 20, std: 4}}
`))
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	ctx := sim.NewSimulationContext(sim.NewSimulationKey(s.Seed))
	p, err := Build(ctx, s)
	require.NoError(t, err)

	// WHEN twelve events arrive on the same tick
	rejected := 0
	for i := 0; i < 12; i++ {
		p.Root.Accept(sim.NewEvent(ctx.NewEventID(), i, ctx.Now()), func(err error) {
			if err != nil {
				rejected++
			}
		})
	}

	// THEN all ten workers are busy, one event waits and the last is rejected
	q := p.Stage("db").(*sim.TimedDependency).Queue()
	assert.Equal(t, 10, q.InFlight())
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, rejected)
}
