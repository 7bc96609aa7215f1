// Package otel binds engine counters to an OpenTelemetry meter.
//
// [New] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per latency bucket, all fed by a single callback.
// Callers own the MeterProvider.
package otel
