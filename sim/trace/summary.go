package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalTransitions  int
	TransitionsByTo   map[string]int // target state → count
	TotalRejections   int
	RejectionsByStage map[string]int // stage name → count
	MaxFailureRate    float64
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TransitionsByTo:   make(map[string]int),
		RejectionsByStage: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalTransitions = len(st.Transitions)
	for _, tr := range st.Transitions {
		summary.TransitionsByTo[tr.To]++
		if tr.FailureRate > summary.MaxFailureRate {
			summary.MaxFailureRate = tr.FailureRate
		}
	}

	summary.TotalRejections = len(st.Rejections)
	for _, r := range st.Rejections {
		summary.RejectionsByStage[r.Stage]++
	}

	return summary
}
