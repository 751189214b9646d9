package domain

import "time"

// ErrorContext is the immutable snapshot attached to one captured failure.
// Headers and Body are expected to be sanitized before the context is stored.
type ErrorContext struct {
	UserID         string            `json:"user_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	IP             string            `json:"ip,omitempty"`
	Path           string            `json:"path,omitempty"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Environment    string            `json:"environment,omitempty"`
	Version        string            `json:"version,omitempty"`
	Component      string            `json:"component,omitempty"`
	Operation      string            `json:"operation,omitempty"`
	AdditionalData map[string]any    `json:"additional_data,omitempty"`
}

// RecentContext is one entry in a group's recent-context ring: the full
// context of an occurrence plus the event id that produced it.
type RecentContext struct {
	EventID string `json:"event_id"`
	ErrorContext
}

// NewRecentContext builds the ring entry for an event. The timestamp is
// always populated so ring entries sort by occurrence time.
func NewRecentContext(event *ErrorEvent) RecentContext {
	rc := RecentContext{
		EventID:      event.Fingerprint.EventID,
		ErrorContext: event.Context,
	}
	rc.Timestamp = event.OccurredAt()
	return rc
}
