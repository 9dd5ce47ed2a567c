package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeout_InnerResolvesFirst_PassesOutcomeThrough(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(5), failAfter(5))
	to := NewTimeout(ctx, "to", db, 10)

	ok := submit(ctx, to, 1)
	failed := submit(ctx, to, 2)
	advance(ctx, 30)

	assert.NoError(t, ok.err)
	assert.Equal(t, int64(5), ok.ev.EndTick)
	assert.ErrorIs(t, failed.err, ErrUnavailable)
	assert.Zero(t, to.Expired())
	assert.Zero(t, to.Leaked())
}

func TestTimeout_Deadline_FailsCallerAndLeaksInnerWork(t *testing.T) {
	// GIVEN a 10-tick timeout around a 25-tick dependency
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(25))
	to := NewTimeout(ctx, "to", db, 10)

	// WHEN an event is submitted
	c := submit(ctx, to, 1)
	advance(ctx, 11)

	// THEN the caller fails at the deadline
	require.Equal(t, 1, c.resolved)
	assert.ErrorIs(t, c.err, ErrTimeout)
	assert.Equal(t, CauseTimeout, Classify(c.err))
	assert.Equal(t, int64(10), c.ev.EndTick)
	assert.Equal(t, 1, to.Expired())

	// AND the inner work keeps running until it completes on its own
	assert.Equal(t, 1, db.Stats().Accepted)
	assert.Zero(t, db.Stats().Completed())
	advance(ctx, 20)
	assert.Equal(t, 1, db.Stats().Succeeded)
	assert.Equal(t, 1, to.Leaked())
	assert.Equal(t, 1.0, ctx.Counters.Get("to.leaked"))

	// AND the late success never reaches the caller
	assert.Equal(t, 1, c.resolved)
	assert.Equal(t, OutcomeFail, c.ev.Outcome)
	assert.Equal(t, int64(10), c.ev.EndTick)
}

func TestTimeout_InnerSeesShadowEvent(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(25))
	to := NewTimeout(ctx, "to", db, 10)

	c := submit(ctx, to, 9)
	advance(ctx, 30)

	require.Len(t, db.seen, 1)
	shadow := db.seen[0]
	assert.NotSame(t, c.ev, shadow)
	assert.Equal(t, c.ev.ID, shadow.ID)
	assert.Equal(t, 9, shadow.Key)
	assert.True(t, shadow.Succeeded())
	assert.False(t, c.ev.Succeeded())
}

func TestTimeout_SameTickTie_DeadlineWins(t *testing.T) {
	// GIVEN an inner stage that resolves exactly at the deadline
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(10))
	to := NewTimeout(ctx, "to", db, 10)

	c := submit(ctx, to, 1)
	advance(ctx, 11)

	// THEN the timer, registered first, fires first
	assert.ErrorIs(t, c.err, ErrTimeout)
	assert.Equal(t, 1, to.Leaked())
}

func TestTimeout_HoldsQueueSlotsAfterExpiry(t *testing.T) {
	// GIVEN a dependency with one worker behind a short timeout
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(50))
	db.SetQueue(NewQueue(1, 1))
	to := NewTimeout(ctx, "to", db, 10)

	// WHEN the first call times out
	first := submit(ctx, to, 1)
	advance(ctx, 11)
	require.ErrorIs(t, first.err, ErrTimeout)

	// THEN the abandoned work still occupies the only slot
	second := submit(ctx, to, 2)
	assert.ErrorIs(t, second.err, ErrRejected)
	assert.Equal(t, 1, db.Queue().InFlight())
}

func TestTimeout_CopiesCacheMarksBack(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(2))
	cache := NewCacheStage(ctx, "cache", db, CacheConfig{Capacity: 10, TTL: 1000})
	to := NewTimeout(ctx, "to", cache, 10)

	submit(ctx, to, 5)
	advance(ctx, 5)
	c := submit(ctx, to, 5)

	assert.NoError(t, c.err)
	assert.True(t, c.ev.Cached)
	assert.Equal(t, int64(3), c.ev.Age)
}

func TestRetry_AroundTimeout_ExhaustsOnDeadlines(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db", succeedAfter(100))
	to := NewTimeout(ctx, "to", db, 5)
	r := NewRetry(ctx, "retry", to, 3)

	c := submit(ctx, r, 1)
	advance(ctx, 16)

	assert.ErrorIs(t, c.err, ErrRetriesExhausted)
	assert.ErrorIs(t, c.err, ErrTimeout)
	assert.Equal(t, CauseRetriesExhausted, Classify(c.err))
	assert.Equal(t, int64(15), c.ev.EndTick)
	assert.Equal(t, 3, db.Stats().Accepted)
}

func TestNewTimeout_InvalidConfig_Panics(t *testing.T) {
	ctx := newTestContext()
	db := newScriptedStage(ctx, "db")
	assert.Panics(t, func() { NewTimeout(ctx, "to", db, 0) })
	assert.Panics(t, func() { NewTimeout(ctx, "to", nil, 5) })
}
