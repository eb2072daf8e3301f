package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tokenwarden/authcore"
	"github.com/tokenwarden/authcore/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditStats() authcore.AuditStats
}

type labelled struct {
	value string
	n     uint64
}

// PrometheusExporter renders engine metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates a Prometheus exporter that reads from engine.
func NewPrometheusExporter(engine *authcore.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource creates a Prometheus exporter from any
// snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics in Prometheus text exposition format.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	stats := p.source.AuditStats()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && auditIdle(stats) {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	events := internaldefs.SecurityEvents(snapshot)
	security := make([]labelled, 0, len(events))
	for _, ev := range events {
		security = append(security, labelled{value: ev.Type, n: ev.Value})
	}
	writeLabelledCounter(&b, internaldefs.SecurityEventsName, internaldefs.SecurityEventsHelp, "type", security)

	for _, def := range internaldefs.HistogramDefs {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(nonCumulative)
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	emitted := make([]labelled, 0, len(internaldefs.AuditSeverities))
	dropped := make([]labelled, 0, len(internaldefs.AuditSeverities))
	for _, sev := range internaldefs.AuditSeverities {
		emitted = append(emitted, labelled{value: string(sev), n: stats.Emitted[sev]})
		dropped = append(dropped, labelled{value: string(sev), n: stats.Dropped[sev]})
	}
	writeLabelledCounter(&b, "authcore_audit_events_total", "Audit events delivered to the sink by severity.", "severity", emitted)
	writeLabelledCounter(&b, "authcore_audit_dropped_total", "Audit events dropped by severity.", "severity", dropped)

	return b.String()
}

func auditIdle(stats authcore.AuditStats) bool {
	for _, n := range stats.Emitted {
		if n != 0 {
			return false
		}
	}
	for _, n := range stats.Dropped {
		if n != 0 {
			return false
		}
	}
	return true
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeLabelledCounter(b *strings.Builder, name, help, label string, values []labelled) {
	writeHeader(b, name, help, "counter")
	for _, v := range values {
		b.WriteString(name)
		b.WriteByte('{')
		b.WriteString(label)
		b.WriteString("=\"")
		b.WriteString(v.value)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(v.n, 10))
		b.WriteByte('\n')
	}
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// Snapshots carry bucket counts only.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
