// Package otel binds sessionwatch monitor metrics to OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per monitor counter and
// one Int64ObservableGauge per latency bucket. A single callback reads
// [sessionwatch.Monitor.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate monitor state.
package otel
