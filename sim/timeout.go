package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Timeout fails its caller with ErrTimeout when the inner stage has not
// resolved within timeout ticks. The inner work is not cancelled: it keeps
// running on a shadow of the event, holding whatever queue slots and
// dependency concurrency it occupies, and its late outcome is only counted.
type Timeout struct {
	StageCore
	inner   Stage
	timeout int64
	expired int
	leaked  int
}

// NewTimeout creates a timeout decorator. Panics if timeout < 1.
func NewTimeout(ctx *SimulationContext, name string, inner Stage, timeout int64) *Timeout {
	if inner == nil {
		panic(fmt.Sprintf("NewTimeout %q: inner stage must not be nil", name))
	}
	if timeout < 1 {
		panic(fmt.Sprintf("NewTimeout %q: timeout must be >= 1 tick, got %d", name, timeout))
	}
	return &Timeout{
		StageCore: newStageCore(ctx, name),
		inner:     inner,
		timeout:   timeout,
	}
}

// Accept runs admission and then the guarded call.
func (t *Timeout) Accept(ev *Event, done Done) {
	t.process(ev, t, done)
}

// WorkOn races the inner stage against a virtual timer.
func (t *Timeout) WorkOn(ev *Event, done Done) {
	settled := false
	timer := t.ctx.Clock.ScheduleAfter(t.timeout, func() {
		if settled {
			return
		}
		settled = true
		t.expired++
		logrus.Debugf("[tick %07d] %s timed out %s after %d ticks", t.ctx.Now(), t.name, ev.ID, t.timeout)
		done(fmt.Errorf("%s: %w after %d ticks", t.name, ErrTimeout, t.timeout))
	})
	inner := ev.shadow()
	t.inner.Accept(inner, func(err error) {
		if settled {
			t.leaked++
			t.ctx.Counters.Add(t.name+".leaked", 1)
			return
		}
		settled = true
		timer.Stop()
		ev.Cached = inner.Cached
		ev.Age = inner.Age
		done(err)
	})
}

// Expired returns how many calls hit the deadline.
func (t *Timeout) Expired() int {
	return t.expired
}

// Leaked returns how many timed-out calls later completed in the background.
func (t *Timeout) Leaked() int {
	return t.leaked
}

// Duration returns the configured timeout in ticks.
func (t *Timeout) Duration() int64 {
	return t.timeout
}

// Inner returns the wrapped stage.
func (t *Timeout) Inner() Stage {
	return t.inner
}
