package domain

import "strings"

// Severity represents how urgently an error needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// PaymentsComponent is the component name that always classifies as critical.
const PaymentsComponent = "payments"

// Type-name fragments, matched case-insensitively.
var (
	criticalTypeMarkers = []string{"security", "database", "critical"}
	warningTypeMarkers  = []string{"performance"}
)

// IsValid returns true if the severity is a known valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities from info (0) to critical (3). Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ClassifySeverity computes the severity of a failure from its fingerprint
// and context. info is never produced here; it is reserved for diagnostic
// captures.
func ClassifySeverity(fp Fingerprint, ec ErrorContext) Severity {
	typ := strings.ToLower(fp.Type)

	if containsAny(typ, criticalTypeMarkers) || isPaymentsPath(fp, ec) {
		return SeverityCritical
	}
	if containsAny(typ, warningTypeMarkers) {
		return SeverityWarning
	}
	return SeverityError
}

func isPaymentsPath(fp Fingerprint, ec ErrorContext) bool {
	if strings.EqualFold(fp.Component, PaymentsComponent) || strings.EqualFold(ec.Component, PaymentsComponent) {
		return true
	}
	path := strings.ToLower(ec.Path)
	return path == "/"+PaymentsComponent || strings.HasPrefix(path, "/"+PaymentsComponent+"/") ||
		strings.Contains(path, "/api/"+PaymentsComponent)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
