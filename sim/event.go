package sim

import "fmt"

// Outcome is the resolution of an Event.
type Outcome string

const (
	// OutcomePending marks an event that has not been resolved yet.
	OutcomePending Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// Event is one unit of simulated work. Key and ArrivalTick are fixed when the
// simulation creates the event; the remaining fields are stamped by the stages
// it passes through.
type Event struct {
	ID          string  // ULID stamped with the arrival tick
	Key         int     // sampled key, used by caches
	ArrivalTick int64   // tick the event entered the system
	Outcome     Outcome // final resolution as seen by the caller
	StartTick   int64   // tick the outermost stage began working on the event
	EndTick     int64   // tick the event was resolved
	Err         error   // cause of failure, nil on success
	Cached      bool    // served from a cache without reaching the dependency
	Age         int64   // age of the cached information that served the event

	started bool
}

// NewEvent returns a pending event with the given identity.
func NewEvent(id string, key int, arrival int64) *Event {
	return &Event{ID: id, Key: key, ArrivalTick: arrival}
}

func (e *Event) markStarted(now int64) {
	if !e.started {
		e.started = true
		e.StartTick = now
	}
}

func (e *Event) resolve(now int64, err error) {
	e.EndTick = now
	e.Err = err
	if err != nil {
		e.Outcome = OutcomeFail
	} else {
		e.Outcome = OutcomeSuccess
	}
}

// Latency is the time spent being worked on, excluding admission wait at the
// outermost stage.
func (e *Event) Latency() int64 {
	return e.EndTick - e.StartTick
}

// ResponseTime is the time from arrival to resolution.
func (e *Event) ResponseTime() int64 {
	return e.EndTick - e.ArrivalTick
}

// Succeeded reports whether the event resolved successfully.
func (e *Event) Succeeded() bool {
	return e.Outcome == OutcomeSuccess
}

// shadow returns a copy that shares identity but not outcome state. Timeout
// hands shadows to the stage it wraps so late completions stay invisible to
// the caller.
func (e *Event) shadow() *Event {
	c := *e
	c.Outcome = OutcomePending
	c.Err = nil
	c.EndTick = 0
	return &c
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{%s key=%d arrival=%d outcome=%q}", e.ID, e.Key, e.ArrivalTick, e.Outcome)
}
