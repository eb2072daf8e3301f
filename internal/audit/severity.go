package audit

// Severity ranks an audit event for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const severityCount = 3

var severities = [severityCount]Severity{SeverityInfo, SeverityWarning, SeverityCritical}

func (s Severity) index() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Classify maps an event type to its severity. Refresh token reuse means a stolen
// or replayed credential and is critical; any other failure is a warning.
func Classify(eventType string, success bool) Severity {
	switch eventType {
	case "refresh_reuse_detected":
		return SeverityCritical
	case "account_creation_duplicate", "refresh_expired":
		return SeverityInfo
	}
	if !success {
		return SeverityWarning
	}
	return SeverityInfo
}

// Stats is a point-in-time copy of dispatcher counters keyed by severity.
type Stats struct {
	Emitted map[Severity]uint64
	Dropped map[Severity]uint64
}
