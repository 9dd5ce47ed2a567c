package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/inference-sim/resilience-sim/sim"
	"github.com/inference-sim/resilience-sim/sim/telemetry"
	"github.com/inference-sim/resilience-sim/sim/trace"
)

var (
	heading = color.New(color.Bold)
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed)
)

// rateColor picks the color a failure rate is printed in.
func rateColor(rate float64) *color.Color {
	if rate > 0 {
		return bad
	}
	return good
}

// printReport writes the human-readable summary of a run to w. The trace
// section is printed only when tr recorded decisions.
func printReport(w io.Writer, report telemetry.Report, tr *trace.SimulationTrace) {
	heading.Fprintf(w, "=== Run %s ===\n", report.RunID)
	printEvents(w, report.Events)
	printStages(w, report.Stages)
	printCounters(w, report.Counters)
	if tr.Enabled() {
		printTrace(w, trace.Summarize(tr))
	}
}

func printEvents(w io.Writer, s sim.EventSummary) {
	heading.Fprintln(w, "Events")
	fmt.Fprintf(w, "  resolved     %d\n", s.Count)
	fmt.Fprintf(w, "  succeeded    %d\n", s.Succeeded)
	fmt.Fprintf(w, "  failed       %d (fast %d)\n", s.Failed, s.FastFailed)
	fmt.Fprintf(w, "  cached       %d\n", s.Cached)
	fmt.Fprintf(w, "  failure rate %s\n", rateColor(s.FailureRate).Sprintf("%.4f", s.FailureRate))
	fmt.Fprintf(w, "  latency      mean %.2f  std %.2f  p50 %.0f  p95 %.0f  p99 %.0f  max %.0f\n",
		s.MeanLatency, s.StdDevLatency, s.P50Latency, s.P95Latency, s.P99Latency, s.MaxLatency)
	fmt.Fprintf(w, "  response     mean %.2f\n", s.MeanResponse)
	printCauses(w, s.ByCause)
}

func printStages(w io.Writer, rows []sim.StageSummary) {
	if len(rows) == 0 {
		return
	}
	heading.Fprintln(w, "Stages")
	fmt.Fprintf(w, "  %-16s %9s %9s %9s %8s %9s %s\n", "stage", "accepted", "ok", "failed", "rate", "latency", "queue")
	for _, r := range rows {
		queue := "-"
		if r.Queue != nil {
			queue = fmt.Sprintf("enq=%d rej=%d maxlen=%d", r.Queue.Enqueued, r.Queue.Rejected, r.Queue.MaxLength)
		}
		fmt.Fprintf(w, "  %-16s %9d %9d %9d %s %9.2f %s\n",
			r.Name, r.Accepted, r.Succeeded, r.Failed,
			rateColor(r.FailureRate).Sprintf("%8.4f", r.FailureRate), r.MeanLatency, queue)
	}
}

func printCauses(w io.Writer, byCause map[sim.Cause]int) {
	causes := make([]string, 0, len(byCause))
	for c := range byCause {
		causes = append(causes, string(c))
	}
	sort.Strings(causes)
	for _, c := range causes {
		fmt.Fprintf(w, "    %-18s %s\n", c, bad.Sprintf("%d", byCause[sim.Cause(c)]))
	}
}

func printCounters(w io.Writer, counters []sim.Counter) {
	if len(counters) == 0 {
		return
	}
	heading.Fprintln(w, "Counters")
	for _, c := range counters {
		fmt.Fprintf(w, "  %-24s %-4s %12.2f (n=%d)\n", c.Name, c.Kind, c.Value, c.Called)
	}
}

func printTrace(w io.Writer, s *trace.TraceSummary) {
	heading.Fprintln(w, "Trace")
	fmt.Fprintf(w, "  transitions  %d (max failure rate %.4f)\n", s.TotalTransitions, s.MaxFailureRate)
	for _, to := range sortedKeys(s.TransitionsByTo) {
		fmt.Fprintf(w, "    -> %-14s %d\n", to, s.TransitionsByTo[to])
	}
	fmt.Fprintf(w, "  rejections   %d\n", s.TotalRejections)
	for _, stage := range sortedKeys(s.RejectionsByStage) {
		fmt.Fprintf(w, "    %-17s %d\n", stage, s.RejectionsByStage[stage])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
