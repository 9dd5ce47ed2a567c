// sim/clock.go
package sim

import (
	"container/heap"
	"math"

	"github.com/sirupsen/logrus"
)

// Timer is a handle to a pending one-shot or periodic callback.
type Timer struct {
	tick     int64 // target tick of the next firing
	seq      uint64
	fn       func()
	stopped  bool
	periodic bool
}

// Stop cancels the timer. A stopped periodic timer is not re-armed.
// Stopping a timer that already fired is a no-op.
func (t *Timer) Stop() {
	if t != nil {
		t.stopped = true
	}
}

// Tick returns the tick at which the timer fires next.
func (t *Timer) Tick() int64 {
	return t.tick
}

// timerQueue implements heap.Interface and orders timers by target tick,
// then by registration order.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type timerQueue []*Timer

func (tq timerQueue) Len() int { return len(tq) }
func (tq timerQueue) Less(i, j int) bool {
	if tq[i].tick != tq[j].tick {
		return tq[i].tick < tq[j].tick
	}
	return tq[i].seq < tq[j].seq
}
func (tq timerQueue) Swap(i, j int) { tq[i], tq[j] = tq[j], tq[i] }

func (tq *timerQueue) Push(x any) {
	*tq = append(*tq, x.(*Timer))
}

func (tq *timerQueue) Pop() any {
	old := *tq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*tq = old[0 : n-1]
	return item
}

// Clock is the virtual-time scheduler. It is the only driver of simulated time:
// the tick advances by exactly one per Step, and callbacks due at the same tick
// fire in registration order.
//
// Thread-safety: NOT thread-safe. A Clock belongs to one simulation run and is
// driven from a single goroutine.
type Clock struct {
	now     int64
	seq     uint64
	pending timerQueue
	stopped bool
}

// NewClock returns a clock at tick 0 with nothing scheduled.
func NewClock() *Clock {
	c := &Clock{pending: make(timerQueue, 0)}
	heap.Init(&c.pending)
	return c
}

// Now returns the current tick.
func (c *Clock) Now() int64 {
	return c.now
}

// Pending returns the number of registered callbacks, including stopped timers
// that have not been drained yet.
func (c *Clock) Pending() int {
	return len(c.pending)
}

// ScheduleAfter registers fn to run delay ticks from now. The delay is floored
// to 1 so that every registration lands strictly in the future.
func (c *Clock) ScheduleAfter(delay int64, fn func()) *Timer {
	if fn == nil {
		panic("ScheduleAfter: fn must not be nil")
	}
	t := &Timer{fn: fn}
	c.arm(t, delay)
	return t
}

// ScheduleAfterFloat is ScheduleAfter for sampled, fractional delays.
// The delay is rounded down before the minimum of 1 is applied.
func (c *Clock) ScheduleAfterFloat(delay float64, fn func()) *Timer {
	return c.ScheduleAfter(floorTicks(delay), fn)
}

// Every registers fn to run every period ticks. The next firing is computed
// from the tick the callback actually fired at, so the schedule never drifts.
func (c *Clock) Every(period int64, fn func()) *Timer {
	if fn == nil {
		panic("Every: fn must not be nil")
	}
	t := &Timer{periodic: true}
	t.fn = func() {
		fn()
		if !t.stopped {
			c.arm(t, period)
		}
	}
	c.arm(t, period)
	return t
}

// Wait suspends the calling operation for ticks and then invokes resume.
func (c *Clock) Wait(ticks float64, resume func()) {
	c.ScheduleAfterFloat(ticks, resume)
}

func (c *Clock) arm(t *Timer, delay int64) {
	if delay < 1 {
		delay = 1
	}
	c.seq++
	t.tick = c.now + delay
	t.seq = c.seq
	heap.Push(&c.pending, t)
}

// Step executes every callback due at the current tick, in registration order,
// and then advances the tick by exactly one.
func (c *Clock) Step() {
	for len(c.pending) > 0 && c.pending[0].tick <= c.now {
		t := heap.Pop(&c.pending).(*Timer)
		if t.stopped {
			continue
		}
		if !t.periodic {
			// one-shot timers are spent once popped
			t.stopped = true
		}
		t.fn()
	}
	c.now++
}

// idle reports whether nothing live is scheduled. Stopped timers at the top of
// the heap are discarded on the way.
func (c *Clock) idle() bool {
	for len(c.pending) > 0 && c.pending[0].stopped {
		heap.Pop(&c.pending)
	}
	return len(c.pending) == 0
}

// Run steps the clock up to ticks times and returns the number of steps taken.
// It returns early when Stop is called or when no callbacks are pending: with a
// single logical thread an empty schedule can only be refilled by the caller, so
// the loop parks instead of spinning. Registering new work and calling Run again
// resumes from the current tick.
func (c *Clock) Run(ticks int64) int64 {
	return c.RunUntil(nil, ticks)
}

// RunUntil steps the clock until cond reports true, the clock is stopped or
// parks, or limit steps have been taken. A nil cond never ends the run.
func (c *Clock) RunUntil(cond func() bool, limit int64) int64 {
	var steps int64
	for steps < limit {
		if cond != nil && cond() {
			break
		}
		if c.stopped {
			break
		}
		if c.idle() {
			logrus.Debugf("[tick %07d] Clock idle, parking", c.now)
			break
		}
		c.Step()
		steps++
	}
	c.stopped = false
	return steps
}

// Stop ends the current run loop after the callback in progress. Called
// outside a run, it ends the next one before its first step. With clear set,
// every pending callback is discarded as well.
func (c *Clock) Stop(clear bool) {
	c.stopped = true
	if clear {
		c.Clear()
	}
}

// Clear discards every pending callback without stopping the clock.
func (c *Clock) Clear() {
	for _, t := range c.pending {
		t.stopped = true
	}
	c.pending = c.pending[:0]
}

// Reset rewinds the clock to tick 0 and drops everything scheduled.
func (c *Clock) Reset() {
	c.Clear()
	c.now = 0
	c.seq = 0
	c.stopped = false
}

func floorTicks(delay float64) int64 {
	if math.IsNaN(delay) || delay < 1 {
		return 1
	}
	if delay >= math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(math.Floor(delay))
}
