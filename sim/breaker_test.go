package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/resilience-sim/sim/trace"
)

func countBreaker(capacity int, threshold float64, open int64) BreakerConfig {
	return BreakerConfig{Capacity: capacity, ErrorThreshold: threshold, TimeInOpenState: open}
}

func TestCircuitBreaker_OpensOnceRingIsFullAndAboveThreshold(t *testing.T) {
	// GIVEN a breaker with a ring of 4 around a dependency that always fails
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{err: ErrUnavailable})
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(4, 0.5, 100))

	// WHEN three calls fail
	for i := 0; i < 3; i++ {
		submit(ctx, cb, i)
	}

	// THEN the ring is not full and the breaker stays closed
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []int{1, 1, 1}, cb.Ring())

	// WHEN the fourth fails
	submit(ctx, cb, 3)

	// THEN it opens and empties the ring
	assert.Equal(t, StateOpen, cb.State())
	assert.Empty(t, cb.Ring())
	assert.Equal(t, 1.0, ctx.Counters.Get("cb.open"))
}

func TestCircuitBreaker_RateAtThreshold_StaysClosed(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{}, outcome{err: ErrUnavailable})
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(4, 0.5, 100))

	for i := 0; i < 12; i++ {
		submit(ctx, cb, i)
	}

	// failure rate is exactly 0.5, which does not exceed the threshold
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0.5, cb.FailureRate())
	assert.Len(t, cb.Ring(), 4)
}

func TestCircuitBreaker_Open_FailsFastWithoutCallingInner(t *testing.T) {
	// GIVEN an open breaker
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{err: ErrUnavailable})
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(2, 0.3, 100))
	submit(ctx, cb, 0)
	submit(ctx, cb, 1)
	require.Equal(t, StateOpen, cb.State())

	// WHEN more calls arrive before the open period elapses
	var calls []*call
	for i := 0; i < 5; i++ {
		calls = append(calls, submit(ctx, cb, i))
	}

	// THEN each fails immediately as breaker-open and the inner stage is untouched
	for _, c := range calls {
		assert.Equal(t, 1, c.resolved)
		assert.ErrorIs(t, c.err, ErrBreakerOpen)
		assert.Equal(t, OutcomeFail, c.ev.Outcome)
		assert.Equal(t, CauseBreakerOpen, Classify(c.ev.Err))
	}
	assert.Equal(t, 2, db.calls)
	assert.Equal(t, 5, cb.Stats().FailuresByCause[CauseBreakerOpen])
	// AND its own rejections are not samples of the inner stage
	assert.Empty(t, cb.Ring())
}

func TestCircuitBreaker_HalfOpen_ClosesOnHealthyTrial(t *testing.T) {
	// GIVEN a breaker that opened at tick 0 with a 10-tick open period
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{err: ErrUnavailable}, outcome{err: ErrUnavailable},
		outcome{}, outcome{}, outcome{})
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(2, 0.3, 10))
	submit(ctx, cb, 0)
	submit(ctx, cb, 1)
	require.Equal(t, StateOpen, cb.State())
	require.Equal(t, int64(0), cb.OpenedAt())

	// WHEN exactly the open period has passed
	advance(ctx, 10)
	c := submit(ctx, cb, 2)

	// THEN it is still open
	assert.ErrorIs(t, c.err, ErrBreakerOpen)

	// WHEN one more tick passes
	advance(ctx, 1)
	c = submit(ctx, cb, 3)

	// THEN trial traffic flows through half-open
	assert.NoError(t, c.err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// AND a full ring of successes closes it
	submit(ctx, cb, 4)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1.0, ctx.Counters.Get("cb.half-open"))
	assert.Equal(t, 1.0, ctx.Counters.Get("cb.closed"))
}

func TestCircuitBreaker_HalfOpen_ReopensOnFailingTrial(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{err: ErrUnavailable})
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(2, 0.3, 10))
	submit(ctx, cb, 0)
	submit(ctx, cb, 1)
	advance(ctx, 11)

	submit(ctx, cb, 2)
	require.Equal(t, StateHalfOpen, cb.State())
	submit(ctx, cb, 3)

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, int64(11), cb.OpenedAt())
	assert.Equal(t, 2.0, ctx.Counters.Get("cb.open"))
}

func TestCircuitBreaker_AsyncCompletions_AreRecordedWhenTheyResolve(t *testing.T) {
	// GIVEN an inner stage that takes 5 ticks and fails
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", failAfter(5))
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(3, 0.5, 100))

	// WHEN three calls are in flight
	calls := []*call{submit(ctx, cb, 0), submit(ctx, cb, 1), submit(ctx, cb, 2)}

	// THEN nothing is recorded until they resolve
	assert.Empty(t, cb.Ring())
	advance(ctx, 6)
	assert.Equal(t, StateOpen, cb.State())
	for _, c := range calls {
		assert.ErrorIs(t, c.err, ErrUnavailable)
	}
	assert.Equal(t, int64(5), cb.OpenedAt())
}

func TestCircuitBreaker_TimeWindow_EvictsOldSamples(t *testing.T) {
	// GIVEN a windowed breaker that needs 3 samples inside 100 ticks
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{err: ErrUnavailable})
	cb := NewCircuitBreaker(ctx, "cb", db, BreakerConfig{Window: 100, MinSamples: 3, ErrorThreshold: 0.5, TimeInOpenState: 100})

	// WHEN two failures are followed by a third long after
	submit(ctx, cb, 0)
	submit(ctx, cb, 1)
	advance(ctx, 150)
	submit(ctx, cb, 2)

	// THEN the old failures have fallen out and the ring is under its minimum
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []int{1}, cb.Ring())

	// WHEN two more fail within the window
	submit(ctx, cb, 3)
	submit(ctx, cb, 4)

	// THEN it opens
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_TimeWindow_CapacityCapsRing(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{})
	cb := NewCircuitBreaker(ctx, "cb", db, BreakerConfig{Window: 1000, Capacity: 5, MinSamples: 5, ErrorThreshold: 0.5})

	for i := 0; i < 20; i++ {
		submit(ctx, cb, i)
	}

	assert.Len(t, cb.Ring(), 5)
}

func TestCircuitBreaker_Open_ForcesStateAndNotifies(t *testing.T) {
	ctx := newTestContext()
	tr := ctx.EnableTrace(trace.TraceLevelDecisions)
	db := newScriptedStage(ctx, "db", outcome{})
	cb := NewCircuitBreaker(ctx, "cb", db, DefaultBreakerConfig())
	var seen []BreakerState
	cb.OnTransition(func(from, to BreakerState) { seen = append(seen, from, to) })

	cb.Open()
	cb.Open()

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, []BreakerState{StateClosed, StateOpen}, seen)
	require.Len(t, tr.Transitions, 1)
	assert.Equal(t, "cb", tr.Transitions[0].Stage)
	assert.Equal(t, "closed", tr.Transitions[0].From)
	assert.Equal(t, "open", tr.Transitions[0].To)

	// AND the fast failures are traced as rejections
	submit(ctx, cb, 1)
	require.Len(t, tr.Rejections, 1)
	assert.Equal(t, string(CauseBreakerOpen), tr.Rejections[0].Reason)
}

func TestNewCircuitBreaker_InvalidConfig_Panics(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db")
	tests := []struct {
		name string
		cfg  BreakerConfig
	}{
		{"threshold above one", BreakerConfig{Capacity: 1, ErrorThreshold: 1.5}},
		{"negative threshold", BreakerConfig{Capacity: 1, ErrorThreshold: -0.1}},
		{"count ring without capacity", BreakerConfig{ErrorThreshold: 0.5}},
		{"window without min samples", BreakerConfig{Window: 10, ErrorThreshold: 0.5}},
		{"unreachable min samples", BreakerConfig{Window: 10, Capacity: 2, MinSamples: 3, ErrorThreshold: 0.5}},
		{"negative open time", BreakerConfig{Capacity: 1, ErrorThreshold: 0.5, TimeInOpenState: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Panics(t, func() { NewCircuitBreaker(ctx, "cb", db, tc.cfg) })
		})
	}
	assert.Panics(t, func() { NewCircuitBreaker(ctx, "cb", nil, DefaultBreakerConfig()) })
}

func TestAdaptiveCircuitBreaker_ResizesGovernedQueue(t *testing.T) {
	// GIVEN an adaptive breaker governing a 10-worker queue
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", outcome{err: ErrUnavailable}, outcome{err: ErrUnavailable}, outcome{}, outcome{})
	q := NewQueue(UnboundedCapacity, 10)
	cb := NewAdaptiveCircuitBreaker(ctx, "cb", db, countBreaker(2, 0.3, 10), q, DefaultAdaptiveConfig(10))
	assert.Same(t, q, cb.GovernedQueue())
	assert.Equal(t, 10, q.Workers())

	// WHEN it opens
	submit(ctx, cb, 0)
	submit(ctx, cb, 1)

	// THEN the pool shrinks to a tenth
	require.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 1, q.Workers())

	// WHEN it moves to half-open
	advance(ctx, 11)
	submit(ctx, cb, 2)
	require.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 5, q.Workers())

	// WHEN the trial succeeds
	submit(ctx, cb, 3)
	require.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 10, q.Workers())
}

func TestNewAdaptiveCircuitBreaker_InvalidConfig_Panics(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db")
	assert.Panics(t, func() {
		NewAdaptiveCircuitBreaker(ctx, "cb", db, DefaultBreakerConfig(), nil, DefaultAdaptiveConfig(10))
	})
	assert.Panics(t, func() {
		NewAdaptiveCircuitBreaker(ctx, "cb", db, DefaultBreakerConfig(), NewQueue(1, 1), AdaptiveConfig{ClosedWorkers: 1})
	})
}

func TestDefaultAdaptiveConfig(t *testing.T) {
	assert.Equal(t, AdaptiveConfig{ClosedWorkers: 100, HalfOpenWorkers: 50, OpenWorkers: 10}, DefaultAdaptiveConfig(100))
	assert.Equal(t, AdaptiveConfig{ClosedWorkers: 1, HalfOpenWorkers: 1, OpenWorkers: 1}, DefaultAdaptiveConfig(1))
}

func TestCircuitBreaker_OwnQueueRejections_AreNotRecorded(t *testing.T) {
	// GIVEN a breaker with its own single-slot queue around a healthy dependency
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(10))
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(4, 0.5, 100))
	cb.SetQueue(NewQueue(1, 1))

	// WHEN five events arrive at once
	var calls []*call
	for i := 0; i < 5; i++ {
		calls = append(calls, submit(ctx, cb, i))
	}

	// THEN four are rejected by the queue but the ring stays empty and the breaker closed
	for _, c := range calls[1:] {
		assert.ErrorIs(t, c.err, ErrRejected)
	}
	assert.Equal(t, 1, db.calls)
	assert.Empty(t, cb.Ring())
	assert.Equal(t, StateClosed, cb.State())

	// AND the admitted call is recorded once it resolves
	advance(ctx, 11)
	assert.Equal(t, []int{0}, cb.Ring())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_InnerQueueRejections_AreRecorded(t *testing.T) {
	// GIVEN a breaker around a dependency behind a single-slot queue
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(10))
	db.SetQueue(NewQueue(1, 1))
	cb := NewCircuitBreaker(ctx, "cb", db, countBreaker(4, 0.5, 100))

	// WHEN five events arrive at once
	for i := 0; i < 5; i++ {
		submit(ctx, cb, i)
	}

	// THEN the dependency's rejections count as failures and trip the breaker
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 1.0, ctx.Counters.Get("cb.open"))
}
