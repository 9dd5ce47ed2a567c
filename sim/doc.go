// Package sim provides the discrete-event kernel for simulating resilience
// patterns in front of unreliable dependencies.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - clock.go: virtual time, one tick per step, callbacks in registration order
//   - stage.go: the Stage contract and StageCore (admission, stats, outcome hooks)
//   - simulation.go: arrival generation, the run loop and the drain phase
//
// # Architecture
//
// A pipeline is a chain of stages, outermost first. Every stage resolves an
// Event by calling its Done continuation exactly once; decorators delegate to
// the stage they wrap from their WorkOn:
//   - queue.go: bounded FIFO admission with a resizable worker pool
//   - dependency.go: TimedDependency (the stochastic leaf) and LatencyStage
//   - breaker.go: CircuitBreaker and AdaptiveCircuitBreaker
//   - retry.go, timeout.go: immediate retries and deadline races
//   - cache.go, qos.go: LRU caching and the QoS-gated cache
//
// Everything a run shares lives in a SimulationContext: the clock, named
// counters, the partitioned RNG and the optional decision trace. Independent
// runs never share state and can execute on separate goroutines.
//
// Sub-packages:
//   - sim/workload/: arrival processes and key sampling
//   - sim/scenario/: YAML scenario loading and pipeline construction
//   - sim/telemetry/: OpenTelemetry export of run summaries
//   - sim/trace/: decision trace recording
//
// # Failures
//
// Modeled failures are ordinary errors wrapping the sentinels in errors.go.
// They collapse to OutcomeFail on the event and stay attributable through
// Classify.
package sim
