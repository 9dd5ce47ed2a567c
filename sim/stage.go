package sim

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/resilience-sim/sim/trace"
)

// Done resolves a unit of work. A nil error is success; any error is a
// modeled failure.
type Done func(err error)

// Stage is a pipeline node that resolves an Event to success or failure.
// Decorators own an inner Stage and delegate to its Accept from their WorkOn.
type Stage interface {
	Name() string
	Accept(ev *Event, done Done)
	Stats() *StageStats
}

// Worker is the overridable unit of work of a stage.
type Worker interface {
	WorkOn(ev *Event, done Done)
}

// OutcomeObserver is implemented by stages that watch their own outcomes
// before they propagate to the caller. Observers record; they do not change
// the outcome.
type OutcomeObserver interface {
	OnSuccess(ev *Event)
	OnFailure(ev *Event, err error)
}

// StageStats are the per-stage aggregate counters.
type StageStats struct {
	Accepted        int
	Succeeded       int
	Failed          int
	FailuresByCause map[Cause]int
	LatencySum      int64 // sum of ticks from accept to resolution
}

// Completed returns the number of resolved events.
func (s *StageStats) Completed() int {
	return s.Succeeded + s.Failed
}

// MeanLatency returns the mean ticks from accept to resolution.
func (s *StageStats) MeanLatency() float64 {
	if s.Completed() == 0 {
		return 0
	}
	return float64(s.LatencySum) / float64(s.Completed())
}

// FailureRate returns failed / completed.
func (s *StageStats) FailureRate() float64 {
	if s.Completed() == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Completed())
}

// StageCore carries what every stage shares: its name, optional admission
// queue, statistics and outcome listeners. Concrete stages embed it and
// implement Accept as core.process(ev, self, done).
type StageCore struct {
	ctx       *SimulationContext
	name      string
	queue     *Queue
	stats     StageStats
	listeners []func(ev *Event, err error)
}

func newStageCore(ctx *SimulationContext, name string) StageCore {
	if ctx == nil {
		panic("stage " + name + ": context must not be nil")
	}
	if name == "" {
		panic("stage name must not be empty")
	}
	return StageCore{
		ctx:   ctx,
		name:  name,
		stats: StageStats{FailuresByCause: make(map[Cause]int)},
	}
}

// Name returns the stage name.
func (c *StageCore) Name() string {
	return c.name
}

// Stats returns the live statistics of the stage.
func (c *StageCore) Stats() *StageStats {
	return &c.stats
}

// Queue returns the admission queue, or nil.
func (c *StageCore) Queue() *Queue {
	return c.queue
}

// SetQueue puts an admission queue in front of the stage's work.
func (c *StageCore) SetQueue(q *Queue) {
	c.queue = q
}

// OnOutcome registers fn to observe every resolution of this stage.
func (c *StageCore) OnOutcome(fn func(ev *Event, err error)) {
	c.listeners = append(c.listeners, fn)
}

// process runs admission, then w.WorkOn, then routes the result through the
// success/fail hooks and finally to done.
func (c *StageCore) process(ev *Event, w Worker, done Done) {
	c.stats.Accepted++
	accepted := c.ctx.Now()
	run := func(release func()) {
		ev.markStarted(c.ctx.Now())
		w.WorkOn(ev, func(err error) {
			release()
			c.finish(ev, w, accepted, err, done)
		})
	}
	if c.queue == nil {
		run(func() {})
		return
	}
	if err := c.queue.Enqueue(run); err != nil {
		err = &admissionError{core: c}
		logrus.Debugf("[tick %07d] %s rejected %s: %v", c.ctx.Now(), c.name, ev.ID, err)
		c.recordRejection(ev, err)
		c.finish(ev, w, accepted, err, done)
	}
}

func (c *StageCore) finish(ev *Event, w Worker, accepted int64, err error, done Done) {
	now := c.ctx.Now()
	c.stats.LatencySum += now - accepted
	if err != nil {
		c.stats.Failed++
		c.stats.FailuresByCause[Classify(err)]++
	} else {
		c.stats.Succeeded++
	}
	if obs, ok := w.(OutcomeObserver); ok {
		if err != nil {
			obs.OnFailure(ev, err)
		} else {
			obs.OnSuccess(ev)
		}
	}
	for _, fn := range c.listeners {
		fn(ev, err)
	}
	ev.resolve(now, err)
	done(err)
}

// rejectedHere reports whether err is a rejection by this stage's own queue.
func (c *StageCore) rejectedHere(err error) bool {
	var ae *admissionError
	return errors.As(err, &ae) && ae.core == c
}

func (c *StageCore) recordRejection(ev *Event, err error) {
	if !c.ctx.Trace.Enabled() {
		return
	}
	c.ctx.Trace.RecordRejection(trace.RejectionRecord{
		Stage:   c.name,
		EventID: ev.ID,
		Clock:   c.ctx.Now(),
		Reason:  string(Classify(err)),
	})
}
