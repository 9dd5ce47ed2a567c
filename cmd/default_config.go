package cmd

import (
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/resilience-sim/sim"
	"github.com/inference-sim/resilience-sim/sim/scenario"
)

// defaultScenario is the single healthy dependency run when no --scenario is
// given: 200 events per 1000 ticks into a dependency with latency normal(20, 4).
func defaultScenario() *scenario.Spec {
	arrivals := sim.DefaultArrivalConfig()
	return &scenario.Spec{
		Seed: 42,
		Arrivals: scenario.ArrivalSpec{
			Rate:    arrivals.EventsPer1000Ticks,
			Process: arrivals.Process,
			KeyMean: arrivals.KeyMean,
			KeyStd:  arrivals.KeyStd,
		},
		Run: scenario.RunSpec{Ticks: 10000},
		Pipeline: []scenario.StageSpec{{
			Name:       "db",
			Type:       scenario.TypeDependency,
			Dependency: &scenario.DependencySpec{Mean: 20, Std: 4},
		}},
	}
}

// loadScenario reads the scenario at path, or returns the default scenario
// when path is empty. Unreadable or invalid files are fatal.
func loadScenario(path string) *scenario.Spec {
	if path == "" {
		return defaultScenario()
	}
	spec, err := scenario.Load(path)
	if err != nil {
		logrus.Fatalf("Failed to load scenario: %v", err)
	}
	return spec
}

// overrides are CLI values that replace scenario settings when the matching
// flag was set explicitly.
type overrides struct {
	seed       int64
	ticks      int64
	events     int
	drainTicks int64
	rate       float64
	process    string
	cv         float64
	keyMean    float64
	keyStd     float64
}

// apply copies every explicitly set value onto spec. changed reports whether
// the flag of the given name was set on the command line.
func (o overrides) apply(spec *scenario.Spec, changed func(name string) bool) {
	if changed("seed") {
		spec.Seed = o.seed
	}
	if changed("ticks") {
		spec.Run.Ticks = o.ticks
	}
	if changed("events") {
		spec.Run.Events = o.events
	}
	if changed("drain-ticks") {
		spec.Run.DrainTicks = o.drainTicks
	}
	if changed("rate") {
		spec.Arrivals.Rate = o.rate
	}
	if changed("process") {
		spec.Arrivals.Process = o.process
	}
	if changed("cv") {
		spec.Arrivals.CV = o.cv
	}
	if changed("key-mean") {
		spec.Arrivals.KeyMean = o.keyMean
	}
	if changed("key-std") {
		spec.Arrivals.KeyStd = o.keyStd
	}
}
