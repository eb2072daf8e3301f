// Package prometheus renders authcore metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts an [authcore.Engine] and exposes an
// [http.Handler]. Counter names are prefixed authcore_*_total; the histograms are
// authcore_login_latency_seconds and authcore_refresh_latency_seconds.
// authcore_security_events_total{type} splits refresh reuse into replays and lost
// rotation races; authcore_audit_events_total and authcore_audit_dropped_total are
// labelled by audit severity.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
