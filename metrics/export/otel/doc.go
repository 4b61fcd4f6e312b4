// Package otel binds credcore engine metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter
// and one Int64ObservableGauge per latency bucket. A single callback reads
// [credcore.Engine.MetricsSnapshot] on each collection. The caller owns the
// MeterProvider.
package otel
