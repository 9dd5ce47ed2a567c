package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures breaker transitions and fast failures.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects decision records during a simulation run.
// A nil *SimulationTrace is valid and records nothing.
type SimulationTrace struct {
	Config      TraceConfig
	Transitions []TransitionRecord
	Rejections  []RejectionRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:      config,
		Transitions: make([]TransitionRecord, 0),
		Rejections:  make([]RejectionRecord, 0),
	}
}

// Enabled reports whether records are kept.
func (st *SimulationTrace) Enabled() bool {
	return st != nil && st.Config.Level == TraceLevelDecisions
}

// RecordTransition appends a breaker transition record.
func (st *SimulationTrace) RecordTransition(record TransitionRecord) {
	if !st.Enabled() {
		return
	}
	st.Transitions = append(st.Transitions, record)
}

// RecordRejection appends a fast-failure record.
func (st *SimulationTrace) RecordRejection(record RejectionRecord) {
	if !st.Enabled() {
		return
	}
	st.Rejections = append(st.Rejections, record)
}

// TransitionsTo returns the ticks at which the named stage entered state to,
// in recording order.
func (st *SimulationTrace) TransitionsTo(stage, to string) []int64 {
	if st == nil {
		return nil
	}
	var ticks []int64
	for _, tr := range st.Transitions {
		if tr.Stage == stage && tr.To == to {
			ticks = append(ticks, tr.Clock)
		}
	}
	return ticks
}
