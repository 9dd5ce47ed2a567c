package sim

import "errors"

// Modeled failures. They are expected outcomes, never faults: each collapses
// to OutcomeFail on the Event but stays attributable through Classify.
var (
	// ErrUnavailable is a dependency-intrinsic failure (sampled unavailability).
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrRejected is an admission rejection by a saturated queue.
	ErrRejected = errors.New("queue saturated")
	// ErrBreakerOpen is the fast failure of an open circuit breaker.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrTimeout is reported when the deadline passes before the work resolves.
	ErrTimeout = errors.New("deadline exceeded")
	// ErrRetriesExhausted wraps the last failure once every attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrFailFast is an early exit chosen by a QoS policy.
	ErrFailFast = errors.New("fail fast")
)

// Cause names a failure category for statistics.
type Cause string

const (
	CauseNone             Cause = ""
	CauseUnavailable      Cause = "unavailable"
	CauseRejected         Cause = "rejected"
	CauseBreakerOpen      Cause = "breaker-open"
	CauseTimeout          Cause = "timeout"
	CauseRetriesExhausted Cause = "retries-exhausted"
	CauseFailFast         Cause = "fail-fast"
	CauseOther            Cause = "other"
)

// causeOrder lists sentinels outermost first; a retry that exhausted its
// attempts on timeouts is attributed to the retry.
var causeOrder = []struct {
	err   error
	cause Cause
}{
	{ErrRetriesExhausted, CauseRetriesExhausted},
	{ErrTimeout, CauseTimeout},
	{ErrBreakerOpen, CauseBreakerOpen},
	{ErrFailFast, CauseFailFast},
	{ErrRejected, CauseRejected},
	{ErrUnavailable, CauseUnavailable},
}

// Classify maps an error to its failure cause.
func Classify(err error) Cause {
	if err == nil {
		return CauseNone
	}
	for _, c := range causeOrder {
		if errors.Is(err, c.err) {
			return c.cause
		}
	}
	return CauseOther
}

// isFastFailure reports whether err was produced without doing downstream work.
func isFastFailure(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrFailFast)
}

// admissionError is a rejection by the admission queue of a stage. It
// unwraps to ErrRejected and remembers which stage refused the event.
type admissionError struct {
	core *StageCore
}

func (e *admissionError) Error() string {
	return e.core.name + ": " + ErrRejected.Error()
}

func (e *admissionError) Unwrap() error {
	return ErrRejected
}
