// Package telemetry wraps OpenTelemetry SDK initialization and provides
// centralized TracerProvider and MeterProvider configuration for RelayDesk.
// When telemetry is disabled the global providers stay noop and nothing
// connects to an external collector.
package telemetry
