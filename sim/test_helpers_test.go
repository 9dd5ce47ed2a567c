package sim

// outcome is one scripted resolution of a scriptedStage.
type outcome struct {
	delay int64 // 0 resolves synchronously inside Accept
	err   error
}

// scriptedStage resolves calls according to a fixed script, cycling through
// it. It records every event it receives.
type scriptedStage struct {
	StageCore
	script []outcome
	calls  int
	seen   []*Event
}

func newScriptedStage(ctx *SimulationContext, name string, script ...outcome) *scriptedStage {
	if len(script) == 0 {
		script = []outcome{{delay: 1}}
	}
	return &scriptedStage{StageCore: newStageCore(ctx, name), script: script}
}

func (s *scriptedStage) Accept(ev *Event, done Done) {
	s.process(ev, s, done)
}

func (s *scriptedStage) WorkOn(ev *Event, done Done) {
	step := s.script[s.calls%len(s.script)]
	s.calls++
	s.seen = append(s.seen, ev)
	if step.delay == 0 {
		done(step.err)
		return
	}
	s.ctx.Clock.ScheduleAfter(step.delay, func() { done(step.err) })
}

func succeedAfter(delay int64) outcome { return outcome{delay: delay} }

func failAfter(delay int64) outcome { return outcome{delay: delay, err: ErrUnavailable} }

func repeat(o outcome, n int) []outcome {
	out := make([]outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}

func newTestContext() *SimulationContext {
	return NewSimulationContext(NewSimulationKey(42))
}

// call is one submitted event and what its caller observed.
type call struct {
	ev       *Event
	err      error
	resolved int
}

// submit hands a fresh event to stage at the current tick.
func submit(ctx *SimulationContext, stage Stage, key int) *call {
	c := &call{ev: NewEvent(ctx.NewEventID(), key, ctx.Now())}
	stage.Accept(c.ev, func(err error) {
		c.err = err
		c.resolved++
	})
	return c
}

// advance runs the clock for exactly n ticks.
func advance(ctx *SimulationContext, n int64) {
	ctx.Clock.ScheduleAfter(n, func() {})
	ctx.Clock.Run(n)
}
