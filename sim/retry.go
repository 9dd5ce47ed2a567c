package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Retry re-submits a failed event to its inner stage immediately, up to
// attempts tries in total. There is no backoff or jitter between tries.
type Retry struct {
	StageCore
	inner    Stage
	attempts int
	tries    int
}

// NewRetry creates a retry decorator. Panics if attempts < 1.
func NewRetry(ctx *SimulationContext, name string, inner Stage, attempts int) *Retry {
	if inner == nil {
		panic(fmt.Sprintf("NewRetry %q: inner stage must not be nil", name))
	}
	if attempts < 1 {
		panic(fmt.Sprintf("NewRetry %q: attempts must be >= 1, got %d", name, attempts))
	}
	return &Retry{
		StageCore: newStageCore(ctx, name),
		inner:     inner,
		attempts:  attempts,
	}
}

// Accept runs admission and then the attempt loop.
func (r *Retry) Accept(ev *Event, done Done) {
	r.process(ev, r, done)
}

// WorkOn tries the inner stage until it succeeds or the budget is spent.
func (r *Retry) WorkOn(ev *Event, done Done) {
	r.attempt(ev, 1, done)
}

func (r *Retry) attempt(ev *Event, n int, done Done) {
	r.tries++
	r.inner.Accept(ev, func(err error) {
		if err == nil {
			done(nil)
			return
		}
		if n >= r.attempts {
			logrus.Debugf("[tick %07d] %s gave up on %s after %d attempts", r.ctx.Now(), r.name, ev.ID, n)
			done(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, n, err))
			return
		}
		r.ctx.Counters.Add(r.name+".retries", 1)
		r.attempt(ev, n+1, done)
	})
}

// Attempts returns the configured budget.
func (r *Retry) Attempts() int {
	return r.attempts
}

// Tries returns how many times the inner stage has been invoked.
func (r *Retry) Tries() int {
	return r.tries
}

// Inner returns the wrapped stage.
func (r *Retry) Inner() Stage {
	return r.inner
}
