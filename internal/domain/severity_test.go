package domain

import "testing"

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name string
		fp   Fingerprint
		ec   ErrorContext
		want Severity
	}{
		{
			name: "generic error",
			fp:   Fingerprint{Type: "Error", Component: "orders"},
			want: SeverityError,
		},
		{
			name: "security error",
			fp:   Fingerprint{Type: "SecurityError"},
			want: SeverityCritical,
		},
		{
			name: "database error",
			fp:   Fingerprint{Type: "DatabaseConnectionError"},
			want: SeverityCritical,
		},
		{
			name: "critical keyword in type",
			fp:   Fingerprint{Type: "CriticalFailure"},
			want: SeverityCritical,
		},
		{
			name: "payments component with generic type",
			fp:   Fingerprint{Type: "Error", Component: "payments"},
			want: SeverityCritical,
		},
		{
			name: "payments path",
			fp:   Fingerprint{Type: "Error"},
			ec:   ErrorContext{Path: "/api/payments/charge"},
			want: SeverityCritical,
		},
		{
			name: "performance issue",
			fp:   Fingerprint{Type: "PerformanceWarning"},
			want: SeverityWarning,
		},
		{
			name: "critical wins over performance",
			fp:   Fingerprint{Type: "DatabasePerformanceError"},
			want: SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySeverity(tt.fp, tt.ec); got != tt.want {
				t.Errorf("ClassifySeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxSeverity(t *testing.T) {
	if got := MaxSeverity(SeverityError, SeverityCritical); got != SeverityCritical {
		t.Errorf("MaxSeverity(error, critical) = %v", got)
	}
	if got := MaxSeverity(SeverityError, SeverityWarning); got != SeverityError {
		t.Errorf("MaxSeverity(error, warning) = %v", got)
	}
	if got := MaxSeverity(SeverityWarning, ""); got != SeverityWarning {
		t.Errorf("MaxSeverity(warning, empty) = %v", got)
	}
}
