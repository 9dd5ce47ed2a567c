package cmd

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/resilience-sim/sim"
	"github.com/inference-sim/resilience-sim/sim/scenario"
	"github.com/inference-sim/resilience-sim/sim/telemetry"
	"github.com/inference-sim/resilience-sim/sim/trace"
)

var (
	scenarioPath string    // Path to a YAML scenario; empty runs the default scenario
	logLevel     string    // Log verbosity level
	traceLevel   string    // Decision trace level
	otelStdout   bool      // Export the run summary as OpenTelemetry metrics on stdout
	runFlags     overrides // Values that replace scenario settings when set
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "resilience-sim",
	Short: "Discrete-event simulator for resilience patterns",
}

// runCmd executes one scenario and prints its summary
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a resilience scenario",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if !trace.IsValidTraceLevel(traceLevel) {
			logrus.Fatalf("Invalid trace level: %s (valid: none, decisions)", traceLevel)
		}

		spec := loadScenario(scenarioPath)
		runFlags.apply(spec, cmd.Flags().Changed)

		logrus.Infof("Starting simulation: seed=%d ticks=%d rate=%.1f stages=%d",
			spec.Seed, spec.Run.Ticks, spec.Arrivals.Rate, len(spec.Pipeline))

		result, err := scenario.Run(spec, func(ctx *sim.SimulationContext) {
			if traceLevel != "" && trace.TraceLevel(traceLevel) != trace.TraceLevelNone {
				ctx.EnableTrace(trace.TraceLevel(traceLevel))
			}
		})
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}

		report := reportOf(result)
		printReport(os.Stdout, report, result.Context.Trace)

		if otelStdout {
			if err := exportReport(cmd.Context(), report); err != nil {
				logrus.Fatalf("Metric export failed: %v", err)
			}
		}
		logrus.Info("Simulation complete.")
	},
}

// reportOf collects the summaries of a finished run.
func reportOf(result *scenario.Result) telemetry.Report {
	return telemetry.Report{
		RunID:    result.Context.RunID,
		Events:   sim.SummarizeEvents(result.Events),
		Stages:   sim.SummarizeStages(result.Pipeline.Stages),
		Counters: result.Context.Counters.Summary(),
	}
}

// exportReport publishes report through a stdout OpenTelemetry exporter and
// flushes it.
func exportReport(ctx context.Context, report telemetry.Report) error {
	if ctx == nil {
		ctx = context.Background()
	}
	provider, err := telemetry.NewStdoutProvider(os.Stdout)
	if err != nil {
		return err
	}
	if err := telemetry.Publish(ctx, provider.Meter("resilience-sim"), report); err != nil {
		_ = provider.Shutdown(ctx)
		return err
	}
	return provider.Shutdown(ctx)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Path to a YAML scenario (default: one healthy dependency)")
	runCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Decision trace level (none, decisions)")
	runCmd.Flags().BoolVar(&otelStdout, "otel-stdout", false, "Export the run summary as OpenTelemetry metrics on stdout")

	// Overrides for scenario settings; applied only when set explicitly
	runCmd.Flags().Int64Var(&runFlags.seed, "seed", 42, "Seed for the simulation RNG")
	runCmd.Flags().Int64Var(&runFlags.ticks, "ticks", 10000, "Arrival horizon (in ticks)")
	runCmd.Flags().IntVar(&runFlags.events, "events", 0, "Stop arrivals after this many events (0 = unlimited)")
	runCmd.Flags().Int64Var(&runFlags.drainTicks, "drain-ticks", 0, "Ticks to wait for in-flight events after the horizon (0 = default)")
	runCmd.Flags().Float64Var(&runFlags.rate, "rate", 200, "Events per 1000 ticks")
	runCmd.Flags().StringVar(&runFlags.process, "process", "constant", "Arrival process (constant, poisson, gamma, weibull)")
	runCmd.Flags().Float64Var(&runFlags.cv, "cv", 0, "Coefficient of variation for gamma and weibull arrivals")
	runCmd.Flags().Float64Var(&runFlags.keyMean, "key-mean", 1000, "Mean of the event key distribution")
	runCmd.Flags().Float64Var(&runFlags.keyStd, "key-std", 200, "Standard deviation of the event key distribution")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}
