package internaldefs

import (
	"github.com/tokenwarden/authcore"
)

// CounterDef binds a MetricID to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds a latency MetricID to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed credential verifications."},
	{ID: authcore.MetricTokenPairIssued, Name: "authcore_token_pair_issued_total", Help: "Issued access and refresh token pairs."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authcore.MetricRefreshExpired, Name: "authcore_refresh_expired_total", Help: "Refresh attempts with expired tokens."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authcore.MetricRefreshRaceLost, Name: "authcore_refresh_race_lost_total", Help: "Refresh calls that lost the rotation claim."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single refresh token invalidations."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Invalidate-all operations."},
	{ID: authcore.MetricAccountCreationSuccess, Name: "authcore_account_creation_success_total", Help: "Successful account creations."},
	{ID: authcore.MetricAccountCreationDuplicate, Name: "authcore_account_creation_duplicate_total", Help: "Account creation attempts rejected as duplicate."},
	{ID: authcore.MetricAccountCreationFailure, Name: "authcore_account_creation_failure_total", Help: "Account creation attempts that failed."},
	{ID: authcore.MetricPasswordRehash, Name: "authcore_password_rehash_total", Help: "Password hashes upgraded on login."},
}

// SecurityEventsName is the labelled series that splits reuse responses by cause.
const SecurityEventsName = "authcore_security_events_total"

// SecurityEventsHelp describes SecurityEventsName.
const SecurityEventsHelp = "Refresh reuse responses by cause. Every event revoked the owner's refresh tokens."

// SecurityEvent is one value of the type label on SecurityEventsName.
type SecurityEvent struct {
	Type  string
	Value uint64
}

// SecurityEvents splits the reuse counter into replays of a consumed token and lost
// rotation races. The two values sum to MetricRefreshReuseDetected.
func SecurityEvents(snapshot authcore.MetricsSnapshot) [2]SecurityEvent {
	reuse := snapshot.Counters[authcore.MetricRefreshReuseDetected]
	raced := snapshot.Counters[authcore.MetricRefreshRaceLost]
	replay := uint64(0)
	if reuse > raced {
		replay = reuse - raced
	}
	return [2]SecurityEvent{
		{Type: "refresh_replay", Value: replay},
		{Type: "refresh_race_lost", Value: raced},
	}
}

// AuditSeverities fixes the render order of the severity label.
var AuditSeverities = []authcore.AuditSeverity{
	authcore.AuditSeverityInfo,
	authcore.AuditSeverityWarning,
	authcore.AuditSeverityCritical,
}

// HistogramDefs lists the exported latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency histogram."},
	{ID: authcore.MetricRefreshLatency, Name: "authcore_refresh_latency_seconds", Help: "Refresh latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds rendered as metric name suffixes.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
