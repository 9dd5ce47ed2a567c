// Summarizes the outcome of a run: per-event latency statistics and per-stage
// aggregate counters.

package sim

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// EventSummary aggregates the resolved events of a run.
type EventSummary struct {
	Count         int
	Succeeded     int
	Failed        int
	FastFailed    int // rejected, breaker-open or fail-fast, without downstream work
	Cached        int
	FailureRate   float64
	MeanLatency   float64 // ticks from start to resolution
	StdDevLatency float64
	P50Latency    float64
	P95Latency    float64
	P99Latency    float64
	MaxLatency    float64
	MeanResponse  float64 // ticks from arrival to resolution
	ByCause       map[Cause]int
}

// SummarizeEvents computes the summary of events. Latency statistics are
// zero when events is empty.
func SummarizeEvents(events []*Event) EventSummary {
	sum := EventSummary{Count: len(events), ByCause: make(map[Cause]int)}
	if len(events) == 0 {
		return sum
	}
	latencies := make([]float64, len(events))
	responses := make([]float64, len(events))
	for i, ev := range events {
		latencies[i] = float64(ev.Latency())
		responses[i] = float64(ev.ResponseTime())
		if ev.Succeeded() {
			sum.Succeeded++
		} else {
			sum.Failed++
			sum.ByCause[Classify(ev.Err)]++
			if isFastFailure(ev.Err) {
				sum.FastFailed++
			}
		}
		if ev.Cached {
			sum.Cached++
		}
	}
	sum.FailureRate = float64(sum.Failed) / float64(sum.Count)
	sum.MeanLatency = stat.Mean(latencies, nil)
	sum.MeanResponse = stat.Mean(responses, nil)
	if len(latencies) > 1 {
		sum.StdDevLatency = stat.StdDev(latencies, nil)
	}
	sort.Float64s(latencies)
	sum.P50Latency = stat.Quantile(0.50, stat.Empirical, latencies, nil)
	sum.P95Latency = stat.Quantile(0.95, stat.Empirical, latencies, nil)
	sum.P99Latency = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	sum.MaxLatency = latencies[len(latencies)-1]
	return sum
}

// StageSummary is one row of the per-stage report.
type StageSummary struct {
	Name        string
	Accepted    int
	Succeeded   int
	Failed      int
	FailureRate float64
	MeanLatency float64
	ByCause     map[Cause]int
	Queue       *QueueStats // nil when the stage has no queue
}

// queued is implemented by stages that embed StageCore.
type queued interface {
	Queue() *Queue
}

// SummarizeStages returns one row per stage, in the given order.
func SummarizeStages(stages []Stage) []StageSummary {
	rows := make([]StageSummary, 0, len(stages))
	for _, s := range stages {
		st := s.Stats()
		row := StageSummary{
			Name:        s.Name(),
			Accepted:    st.Accepted,
			Succeeded:   st.Succeeded,
			Failed:      st.Failed,
			FailureRate: st.FailureRate(),
			MeanLatency: st.MeanLatency(),
			ByCause:     make(map[Cause]int, len(st.FailuresByCause)),
		}
		for c, n := range st.FailuresByCause {
			row.ByCause[c] = n
		}
		if q, ok := s.(queued); ok && q.Queue() != nil {
			qs := q.Queue().Stats()
			row.Queue = &qs
		}
		rows = append(rows, row)
	}
	return rows
}
