// Package otel binds authcore counters and latency histograms to OpenTelemetry
// observable instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter for each counter and an
// Int64ObservableGauge per histogram bucket. authcore_security_events_total carries a
// type attribute (refresh_replay, refresh_race_lost); the audit counters carry a
// severity attribute. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection cycle. Callers own the
// MeterProvider.
package otel
