// Package domain contains the core entities and value objects for Faultline.
// These models describe captured failures, their fingerprints, and the
// durable error groups they are aggregated into.
package domain

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderEventID is returned by capture when the failure could not be
// recorded. It is never assigned to a real event.
var PlaceholderEventID = uuid.Nil.String()

// Defaults applied while fingerprinting when the failure omits a field.
const (
	DefaultFailureType    = "Error"
	DefaultFailureMessage = "Unknown error"
	DefaultComponent      = "unknown"
)

// Failure is a raw failure as handed to the tracker by a calling boundary.
type Failure struct {
	// Type is the declared type or name of the failure (e.g. "DatabaseError").
	Type string `json:"type"`

	// Message is the human-readable failure message.
	Message string `json:"message"`

	// Stack is the raw, un-normalized stack trace.
	Stack string `json:"stack,omitempty"`
}

// stackTracer is implemented by errors that carry their own stack trace.
type stackTracer interface {
	StackTrace() string
}

// FailureFromError builds a Failure from a Go error.
// The type name is derived from the concrete error type. A nil error yields
// an empty Failure, which fingerprints with the default type and message.
func FailureFromError(err error) Failure {
	if err == nil {
		return Failure{}
	}

	f := Failure{
		Type:    typeName(err),
		Message: err.Error(),
	}
	if st, ok := err.(stackTracer); ok {
		f.Stack = st.StackTrace()
	}
	return f
}

// FailureFromPanic builds a Failure from a recovered panic value and the
// stack captured at the recovery site.
func FailureFromPanic(recovered any, stack []byte) Failure {
	f := Failure{
		Type:  "panic",
		Stack: string(stack),
	}
	switch v := recovered.(type) {
	case error:
		f.Message = v.Error()
	case string:
		f.Message = v
	default:
		f.Message = fmt.Sprintf("%v", v)
	}
	return f
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		return strings.TrimPrefix(t.String(), "*")
	}
	return name
}

// Fingerprint is the derived grouping identity of one captured failure.
type Fingerprint struct {
	// EventID uniquely identifies this specific occurrence.
	EventID string `json:"event_id"`

	// Type is the failure's declared type.
	Type string `json:"type"`

	// Message is the failure message.
	Message string `json:"message"`

	// Stack is the normalized stack trace, capped to the top frames.
	Stack string `json:"stack"`

	// Component is the component label, "unknown" when absent.
	Component string `json:"component"`

	// Hash is the grouping key computed over type, message, stack and component.
	Hash string `json:"hash"`
}

// ErrorEvent is the unit moved through the ingest buffer.
type ErrorEvent struct {
	Fingerprint Fingerprint  `json:"fingerprint"`
	Context     ErrorContext `json:"context"`
	Severity    Severity     `json:"severity"`
	ArrivedAt   time.Time    `json:"arrived_at"`
}

// Hash returns the event's grouping key.
func (e *ErrorEvent) Hash() string {
	return e.Fingerprint.Hash
}

// OccurredAt returns the capture timestamp from the context, falling back to
// the arrival time when the context carries none.
func (e *ErrorEvent) OccurredAt() time.Time {
	if !e.Context.Timestamp.IsZero() {
		return e.Context.Timestamp
	}
	return e.ArrivedAt
}
