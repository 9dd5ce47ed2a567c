package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inference-sim/resilience-sim/sim"
)

// sweepConfig is a grid of count-ring breakers in front of one flaky
// dependency. Every grid point runs in its own simulation context.
type sweepConfig struct {
	Capacities   []int
	Thresholds   []float64
	Availability float64
	Seed         int64
	Ticks        int64
	Parallel     int
}

// sweepResult is one grid point.
type sweepResult struct {
	Capacity    int
	Threshold   float64
	Opens       int // closed or half-open to open transitions
	FailureRate float64
	FastFailed  int
	Events      int
}

var sweepFlags = sweepConfig{}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep ring capacity and error threshold of a breaker in front of a flaky dependency",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		results, err := runSweep(ctx, sweepFlags)
		if err != nil {
			logrus.Fatalf("Sweep failed: %v", err)
		}
		printSweep(os.Stdout, results)
	},
}

func (c sweepConfig) validate() error {
	if len(c.Capacities) == 0 || len(c.Thresholds) == 0 {
		return fmt.Errorf("sweep needs at least one capacity and one threshold")
	}
	for _, n := range c.Capacities {
		if n <= 0 {
			return fmt.Errorf("capacity must be positive, got %d", n)
		}
	}
	for _, th := range c.Thresholds {
		if th < 0 || th >= 1 {
			return fmt.Errorf("threshold must be in [0,1), got %v", th)
		}
	}
	if c.Availability < 0 || c.Availability > 1 {
		return fmt.Errorf("availability must be in [0,1], got %v", c.Availability)
	}
	if c.Ticks <= 0 {
		return fmt.Errorf("ticks must be positive, got %d", c.Ticks)
	}
	return nil
}

// runSweep runs every grid point with at most cfg.Parallel runs at once.
// Results are ordered by capacity, then threshold.
func runSweep(ctx context.Context, cfg sweepConfig) ([]sweepResult, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	limit := cfg.Parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]sweepResult, len(cfg.Capacities)*len(cfg.Thresholds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, capacity := range cfg.Capacities {
		for j, threshold := range cfg.Thresholds {
			idx := i*len(cfg.Thresholds) + j
			capacity, threshold := capacity, threshold
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := sweepPoint(cfg, capacity, threshold)
				if err != nil {
					return fmt.Errorf("capacity %d threshold %v: %w", capacity, threshold, err)
				}
				results[idx] = res
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// sweepPoint runs one breaker configuration. Every point shares the seed, so
// all of them see the same arrivals and dependency draws until their breakers
// diverge.
func sweepPoint(cfg sweepConfig, capacity int, threshold float64) (sweepResult, error) {
	ctx := sim.NewSimulationContext(sim.NewSimulationKey(cfg.Seed))
	db := sim.NewTimedDependency(ctx, "db", sim.DependencyConfig{Mean: 20, Std: 4, Availability: cfg.Availability})
	bc := sim.DefaultBreakerConfig()
	bc.Capacity = capacity
	bc.ErrorThreshold = threshold
	cb := sim.NewCircuitBreaker(ctx, "cb", db, bc)

	events, err := sim.NewSimulation(ctx, sim.DefaultArrivalConfig()).Run(cb, sim.RunConfig{Ticks: cfg.Ticks})
	if err != nil {
		return sweepResult{}, err
	}
	sum := sim.SummarizeEvents(events)
	logrus.Debugf("sweep capacity=%d threshold=%.2f: %d events, failure rate %.4f", capacity, threshold, sum.Count, sum.FailureRate)
	return sweepResult{
		Capacity:    capacity,
		Threshold:   threshold,
		Opens:       int(ctx.Counters.Get("cb.open")),
		FailureRate: sum.FailureRate,
		FastFailed:  sum.FastFailed,
		Events:      sum.Count,
	}, nil
}

func printSweep(w io.Writer, results []sweepResult) {
	heading.Fprintln(w, "Breaker sweep")
	fmt.Fprintf(w, "  %8s %9s %6s %8s %9s %8s\n", "capacity", "threshold", "opens", "events", "fastfail", "rate")
	for _, r := range results {
		opens := good.Sprintf("%6d", r.Opens)
		if r.Opens > 0 {
			opens = bad.Sprintf("%6d", r.Opens)
		}
		fmt.Fprintf(w, "  %8d %9.2f %s %8d %9d %8.4f\n", r.Capacity, r.Threshold, opens, r.Events, r.FastFailed, r.FailureRate)
	}
}

func init() {
	sweepCmd.Flags().IntSliceVar(&sweepFlags.Capacities, "capacities", []int{5, 10, 20, 50}, "Ring capacities to sweep")
	sweepCmd.Flags().Float64SliceVar(&sweepFlags.Thresholds, "thresholds", []float64{0.1, 0.3, 0.5}, "Error thresholds to sweep")
	sweepCmd.Flags().Float64Var(&sweepFlags.Availability, "availability", 0.8, "Availability of the flaky dependency")
	sweepCmd.Flags().Int64Var(&sweepFlags.Seed, "seed", 42, "Seed shared by every grid point")
	sweepCmd.Flags().Int64Var(&sweepFlags.Ticks, "ticks", 100000, "Arrival horizon of each run (in ticks)")
	sweepCmd.Flags().IntVar(&sweepFlags.Parallel, "parallel", 0, "Runs executed at once (0 = GOMAXPROCS)")
	sweepCmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
}
