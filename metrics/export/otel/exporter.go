package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokenwarden/authcore"
	"github.com/tokenwarden/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Constructor errors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditStats() authcore.AuditStats
}

type observedCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      authcore.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine metrics through observable OTel instruments.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	security     metric.Int64ObservableCounter
	auditEvents  metric.Int64ObservableCounter
	auditDropped metric.Int64ObservableCounter
	// label sets are built once; the callback runs on every collection.
	securityAttrs [2]metric.ObserveOption
	severityAttrs []metric.ObserveOption
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *authcore.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+3)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
			name := def.Name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	security, err := meter.Int64ObservableCounter(
		internaldefs.SecurityEventsName,
		metric.WithDescription(internaldefs.SecurityEventsHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create security events counter: %w", err)
	}
	exporter.security = security
	for i, ev := range internaldefs.SecurityEvents(authcore.MetricsSnapshot{}) {
		exporter.securityAttrs[i] = metric.WithAttributes(attribute.String("type", ev.Type))
	}

	auditEvents, err := meter.Int64ObservableCounter(
		"authcore_audit_events_total",
		metric.WithDescription("Audit events delivered to the sink by severity."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit events counter: %w", err)
	}
	exporter.auditEvents = auditEvents

	auditDropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Audit events dropped by severity."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	for _, sev := range internaldefs.AuditSeverities {
		exporter.severityAttrs = append(exporter.severityAttrs, metric.WithAttributes(attribute.String("severity", string(sev))))
	}
	observables = append(observables, security, auditEvents, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		for _, h := range exporter.histograms {
			nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[h.id])
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			for i := 0; i < len(cumulative); i++ {
				observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		}
		for i, ev := range internaldefs.SecurityEvents(snapshot) {
			observer.ObserveInt64(exporter.security, int64(ev.Value), exporter.securityAttrs[i])
		}
		stats := exporter.source.AuditStats()
		for i, sev := range internaldefs.AuditSeverities {
			observer.ObserveInt64(exporter.auditEvents, int64(stats.Emitted[sev]), exporter.severityAttrs[i])
			observer.ObserveInt64(exporter.auditDropped, int64(stats.Dropped[sev]), exporter.severityAttrs[i])
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
