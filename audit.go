package authcore

import (
	"io"

	internalaudit "github.com/tokenwarden/authcore/internal/audit"
)

// AuditEvent is one security-relevant outcome (login, refresh, logout, account
// creation) handed to the configured AuditSink.
type AuditEvent = internalaudit.Event

// AuditSeverity ranks an AuditEvent. The dispatcher fills it from the event type:
// refresh_reuse_detected is critical, other failures are warnings.
type AuditSeverity = internalaudit.Severity

const (
	AuditSeverityInfo     = internalaudit.SeverityInfo
	AuditSeverityWarning  = internalaudit.SeverityWarning
	AuditSeverityCritical = internalaudit.SeverityCritical
)

// AuditStats holds delivered and dropped audit events per severity.
type AuditStats = internalaudit.Stats

// AuditSink receives audit events from the async dispatcher. Implementations must be
// safe for concurrent use and should not block.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink returns a ChannelSink with the given buffer (minimum 1).
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink encoding events to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
