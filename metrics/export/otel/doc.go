// Package otel binds controller metrics to OpenTelemetry instruments.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge. The caller owns the MeterProvider.
package otel
