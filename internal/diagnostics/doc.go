// Package diagnostics monitors a running workflow simulation.
//
// The package is built from a handful of independent components that the
// PerformanceMonitor ties together:
//
//   - MetricsSampler: tracks a set of process ids and samples their CPU,
//     memory, IO and thread counts on a background goroutine.
//
//   - HealthProbe: synchronous, timeout-bounded checks of host resources,
//     the container engine, the companion runner binary and socket
//     permissions.
//
//   - ExecutionTracer: a bounded, concurrency-safe event log with timeline
//     reconstruction.
//
//   - StageTracker: the single open execution stage and the closed stages
//     before it.
//
//   - Analyzer: rule-based bottleneck findings and optimization
//     opportunities over the sampled history.
//
// Every component is an instance with an explicit lifecycle. Nothing in the
// package keeps global state or terminates the host process.
package diagnostics
