// Package observability provides a Prometheus extension for graflow. The
// MetricsExtension implements the run lifecycle hooks to record system-wide
// counters for created, resumed, interrupted, completed, failed and
// cancelled runs, and the amount of data removed by reaper sweeps.
//
// For per-invocation tracing and metrics see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
