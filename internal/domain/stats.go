package domain

import (
	"errors"
	"time"
)

// ErrInvalidWindow is returned for an unknown stats window.
var ErrInvalidWindow = errors.New("window must be 'hour', 'day', or 'week'")

// StatsWindow is the time range a stats query covers.
type StatsWindow string

const (
	WindowHour StatsWindow = "hour"
	WindowDay  StatsWindow = "day"
	WindowWeek StatsWindow = "week"
)

// IsValid returns true if the window is a known value.
func (w StatsWindow) IsValid() bool {
	switch w {
	case WindowHour, WindowDay, WindowWeek:
		return true
	default:
		return false
	}
}

// Hours returns the number of hours the window spans.
func (w StatsWindow) Hours() int {
	switch w {
	case WindowHour:
		return 1
	case WindowWeek:
		return 168
	default:
		return 24
	}
}

// Days returns the number of daily counter buckets the window reads.
func (w StatsWindow) Days() int {
	if w == WindowWeek {
		return 7
	}
	return 1
}

// Start returns the beginning of the window ending at now.
func (w StatsWindow) Start(now time.Time) time.Time {
	return now.Add(-time.Duration(w.Hours()) * time.Hour)
}

// GroupSummary is the stats view of one error group.
type GroupSummary struct {
	ID          string      `json:"id"`
	Hash        string      `json:"hash"`
	Message     string      `json:"message"`
	Type        string      `json:"type"`
	Severity    Severity    `json:"severity"`
	Status      GroupStatus `json:"status"`
	Occurrences int64       `json:"occurrences"`
	LastSeen    time.Time   `json:"last_seen"`
}

// RecentError is one recent occurrence surfaced by a stats query.
type RecentError struct {
	Hash      string    `json:"hash"`
	EventID   string    `json:"event_id"`
	Message   string    `json:"message"`
	Path      string    `json:"path,omitempty"`
	Method    string    `json:"method,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatsReport is the answer to a point-in-time stats query.
type StatsReport struct {
	Window            StatsWindow      `json:"window"`
	GeneratedAt       time.Time        `json:"generated_at"`
	TotalErrors       int64            `json:"total_errors"`
	UniqueErrors      int64            `json:"unique_errors"`
	ErrorRate         float64          `json:"error_rate"`
	TopErrors         []GroupSummary   `json:"top_errors"`
	ErrorsByComponent map[string]int64 `json:"errors_by_component"`
	ErrorsByType      map[string]int64 `json:"errors_by_type"`
	RecentErrors      []RecentError    `json:"recent_errors"`
}
