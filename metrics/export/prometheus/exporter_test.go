package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tokenwarden/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	audit    authcore.AuditStats
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditStats() authcore.AuditStats           { return f.audit }

var _ metricsSource = (*authcore.Engine)(nil)

func droppedInfo(n uint64) authcore.AuditStats {
	return authcore.AuditStats{
		Emitted: map[authcore.AuditSeverity]uint64{},
		Dropped: map[authcore.AuditSeverity]uint64{authcore.AuditSeverityInfo: n},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 7,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		audit: droppedInfo(2),
	})

	out := exp.Render()
	if !strings.Contains(out, "authcore_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_login_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_login_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "authcore_refresh_latency_seconds_count 0") {
		t.Fatalf("expected empty refresh histogram in output, got:\n%s", out)
	}
	if !strings.Contains(out, `authcore_audit_dropped_total{severity="info"} 2`) {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestRenderSplitsReuseIntoSecurityEvents(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricRefreshReuseDetected: 5,
				authcore.MetricRefreshRaceLost:      2,
			},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE authcore_security_events_total counter",
		`authcore_security_events_total{type="refresh_replay"} 3`,
		`authcore_security_events_total{type="refresh_race_lost"} 2`,
		"authcore_refresh_reuse_detected_total 5",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderAuditSeveritySeries(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
		audit: authcore.AuditStats{
			Emitted: map[authcore.AuditSeverity]uint64{
				authcore.AuditSeverityInfo:     10,
				authcore.AuditSeverityCritical: 1,
			},
			Dropped: map[authcore.AuditSeverity]uint64{authcore.AuditSeverityWarning: 4},
		},
	})

	out := exp.Render()
	if out == "" {
		t.Fatal("audit activity alone must produce output")
	}
	for _, want := range []string{
		`authcore_audit_events_total{severity="info"} 10`,
		`authcore_audit_events_total{severity="warning"} 0`,
		`authcore_audit_events_total{severity="critical"} 1`,
		`authcore_audit_dropped_total{severity="warning"} 4`,
		`authcore_audit_dropped_total{severity="critical"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         1000,
				authcore.MetricLoginFailure:         40,
				authcore.MetricRefreshSuccess:       800,
				authcore.MetricRefreshFailure:       10,
				authcore.MetricTokenPairIssued:      1000,
				authcore.MetricRefreshReuseDetected: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricLoginLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
