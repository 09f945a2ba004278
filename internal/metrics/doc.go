// Package metrics provides internal Prometheus metrics collection for the
// handoff dispatch core: pickup outcomes, queue depth, message throughput,
// and HTTP serving metrics.
//
// This package is internal and should not be imported by external projects.
package metrics
