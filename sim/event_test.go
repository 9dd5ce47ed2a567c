package sim

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Cause
	}{
		{nil, CauseNone},
		{ErrUnavailable, CauseUnavailable},
		{ErrRejected, CauseRejected},
		{fmt.Errorf("cb: %w", ErrBreakerOpen), CauseBreakerOpen},
		{fmt.Errorf("to: %w after 5 ticks", ErrTimeout), CauseTimeout},
		{fmt.Errorf("qos: %w", ErrFailFast), CauseFailFast},
		{fmt.Errorf("%w after 3 attempts: %w", ErrRetriesExhausted, ErrTimeout), CauseRetriesExhausted},
		{errors.New("boom"), CauseOther},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

func TestEvent_Lifecycle(t *testing.T) {
	ev := NewEvent("id", 5, 10)
	assert.Equal(t, OutcomePending, ev.Outcome)

	ev.markStarted(12)
	ev.markStarted(20)
	ev.resolve(30, nil)

	assert.True(t, ev.Succeeded())
	assert.Equal(t, int64(12), ev.StartTick)
	assert.Equal(t, int64(18), ev.Latency())
	assert.Equal(t, int64(20), ev.ResponseTime())
	assert.Equal(t, `Event{id key=5 arrival=10 outcome="success"}`, ev.String())
}

func TestEvent_ResolveFailure(t *testing.T) {
	ev := NewEvent("id", 1, 0)
	ev.resolve(3, ErrRejected)

	assert.Equal(t, OutcomeFail, ev.Outcome)
	assert.ErrorIs(t, ev.Err, ErrRejected)
	assert.False(t, ev.Succeeded())
}

func TestEvent_Shadow_SharesIdentityNotOutcome(t *testing.T) {
	ev := NewEvent("id", 7, 4)
	ev.markStarted(4)

	s := ev.shadow()
	s.resolve(9, ErrUnavailable)

	assert.Equal(t, ev.ID, s.ID)
	assert.Equal(t, ev.Key, s.Key)
	assert.Equal(t, OutcomePending, ev.Outcome)
	assert.NoError(t, ev.Err)
	assert.Zero(t, ev.EndTick)
}

func TestSimulationContext_RunIDAndEventIDs(t *testing.T) {
	a := NewSimulationContext(NewSimulationKey(1))
	b := NewSimulationContext(NewSimulationKey(1))
	c := NewSimulationContext(NewSimulationKey(2))

	assert.Equal(t, a.RunID, b.RunID)
	assert.NotEqual(t, a.RunID, c.RunID)

	// event IDs are reproducible and sort by creation
	first, second := a.NewEventID(), a.NewEventID()
	assert.Equal(t, first, b.NewEventID())
	assert.Less(t, first, second)
	assert.Len(t, first, 26)
}
