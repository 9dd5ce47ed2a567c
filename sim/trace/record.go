// Package trace provides decision-trace recording for resilience-policy analysis.
// It stores plain data and does not import sim.
package trace

// TransitionRecord captures a single circuit breaker state change.
type TransitionRecord struct {
	Stage       string
	Clock       int64
	From        string
	To          string
	FailureRate float64 // failure rate of the ring that triggered the change (0 for timer-driven changes)
}

// RejectionRecord captures a single fast failure: an admission rejection by a
// saturated queue, an open breaker, or a QoS fail-fast.
type RejectionRecord struct {
	Stage   string
	EventID string
	Clock   int64
	Reason  string
}
