// Package telemetry publishes run summaries as OpenTelemetry metrics.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/inference-sim/resilience-sim/sim"
)

// Metric names.
const (
	StageAccepted    = "resilience.stage.accepted"
	StageSucceeded   = "resilience.stage.succeeded"
	StageFailed      = "resilience.stage.failed"
	StageMeanLatency = "resilience.stage.latency.mean"
	EventCount       = "resilience.events"
	EventLatency     = "resilience.event.latency"
	CounterValue     = "resilience.counter"
)

// Report is everything Publish records for one run.
type Report struct {
	RunID    string
	Events   sim.EventSummary
	Stages   []sim.StageSummary
	Counters []sim.Counter
}

type instruments struct {
	accepted    metric.Int64Counter
	succeeded   metric.Int64Counter
	failed      metric.Int64Counter
	meanLatency metric.Float64Gauge
	events      metric.Int64Counter
	latency     metric.Float64Gauge
	counter     metric.Float64Gauge
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in  instruments
		err error
	)
	if in.accepted, err = meter.Int64Counter(StageAccepted,
		metric.WithDescription("Events accepted by a stage")); err != nil {
		return nil, err
	}
	if in.succeeded, err = meter.Int64Counter(StageSucceeded,
		metric.WithDescription("Events a stage resolved successfully")); err != nil {
		return nil, err
	}
	if in.failed, err = meter.Int64Counter(StageFailed,
		metric.WithDescription("Events a stage failed, by cause")); err != nil {
		return nil, err
	}
	if in.meanLatency, err = meter.Float64Gauge(StageMeanLatency,
		metric.WithDescription("Mean ticks from accept to resolution"),
		metric.WithUnit("{tick}")); err != nil {
		return nil, err
	}
	if in.events, err = meter.Int64Counter(EventCount,
		metric.WithDescription("Resolved events by outcome")); err != nil {
		return nil, err
	}
	if in.latency, err = meter.Float64Gauge(EventLatency,
		metric.WithDescription("End-to-end event latency statistics"),
		metric.WithUnit("{tick}")); err != nil {
		return nil, err
	}
	if in.counter, err = meter.Float64Gauge(CounterValue,
		metric.WithDescription("Named scenario counters")); err != nil {
		return nil, err
	}
	return &in, nil
}

// Publish records report through meter. Every data point carries the run ID.
func Publish(ctx context.Context, meter metric.Meter, report Report) error {
	in, err := newInstruments(meter)
	if err != nil {
		return fmt.Errorf("telemetry: creating instruments: %w", err)
	}
	run := attribute.String("run.id", report.RunID)

	for _, st := range report.Stages {
		stage := metric.WithAttributes(run, attribute.String("stage", st.Name))
		in.accepted.Add(ctx, int64(st.Accepted), stage)
		in.succeeded.Add(ctx, int64(st.Succeeded), stage)
		in.meanLatency.Record(ctx, st.MeanLatency, stage)
		for _, cause := range sortedCauses(st.ByCause) {
			in.failed.Add(ctx, int64(st.ByCause[cause]), metric.WithAttributes(
				run, attribute.String("stage", st.Name), attribute.String("cause", string(cause))))
		}
	}

	ev := report.Events
	in.events.Add(ctx, int64(ev.Succeeded), metric.WithAttributes(run, attribute.String("outcome", string(sim.OutcomeSuccess))))
	in.events.Add(ctx, int64(ev.Failed), metric.WithAttributes(run, attribute.String("outcome", string(sim.OutcomeFail))))
	for _, q := range []struct {
		name  string
		value float64
	}{
		{"mean", ev.MeanLatency},
		{"p50", ev.P50Latency},
		{"p95", ev.P95Latency},
		{"p99", ev.P99Latency},
		{"max", ev.MaxLatency},
	} {
		in.latency.Record(ctx, q.value, metric.WithAttributes(run, attribute.String("stat", q.name)))
	}

	for _, c := range report.Counters {
		in.counter.Record(ctx, c.Value, metric.WithAttributes(
			run, attribute.String("name", c.Name), attribute.String("kind", string(c.Kind))))
	}
	return nil
}

func sortedCauses(m map[sim.Cause]int) []sim.Cause {
	causes := make([]sim.Cause, 0, len(m))
	for c := range m {
		causes = append(causes, c)
	}
	sort.Slice(causes, func(i, j int) bool { return causes[i] < causes[j] })
	return causes
}

// NewStdoutProvider returns a meter provider that writes its metrics as JSON to
// w. Shutdown flushes them.
func NewStdoutProvider(w io.Writer) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating stdout exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", "resilience-sim"))
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	), nil
}
