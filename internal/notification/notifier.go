// Package notification delivers alert messages through configured channels.
// Each channel type maps to one Transport; Mux routes a send to the transport
// registered for the channel's type.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"faultline/internal/domain"
)

// ErrNoTransport is returned when no transport is registered for a channel type.
var ErrNoTransport = errors.New("no transport registered for channel type")

// Rule identifies which alert rule produced a message.
type Rule string

const (
	// RuleCritical fires immediately for critical events.
	RuleCritical Rule = "critical"
	// RuleFrequency fires when a hash recurs more than a channel's threshold.
	RuleFrequency Rule = "frequency"
)

// Message is the payload sent to every transport.
type Message struct {
	Rule        Rule            `json:"rule"`
	Condition   string          `json:"condition"`
	Hash        string          `json:"hash"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Message     string          `json:"message"`
	Component   string          `json:"component"`
	Severity    domain.Severity `json:"severity"`
	Occurrences int64           `json:"occurrences,omitempty"`
	Path        string          `json:"path,omitempty"`
	Method      string          `json:"method,omitempty"`
	Environment string          `json:"environment,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewMessage builds the message for an event firing the given rule.
func NewMessage(rule Rule, event *domain.ErrorEvent, occurrences int64) *Message {
	return &Message{
		Rule:        rule,
		Condition:   string(rule) + ":" + event.Hash(),
		Hash:        event.Hash(),
		EventID:     event.Fingerprint.EventID,
		Type:        event.Fingerprint.Type,
		Message:     event.Fingerprint.Message,
		Component:   event.Fingerprint.Component,
		Severity:    event.Severity,
		Occurrences: occurrences,
		Path:        event.Context.Path,
		Method:      event.Context.Method,
		Environment: event.Context.Environment,
		Timestamp:   event.OccurredAt(),
	}
}

// Subject is a one-line summary, used as the email subject.
func (m *Message) Subject() string {
	if m.Rule == RuleFrequency {
		return fmt.Sprintf("[%s] %s recurring: %s", strings.ToUpper(string(m.Severity)), m.Type, m.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(m.Severity)), m.Type, m.Message)
}

// Text renders the message as plain text.
func (m *Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Subject())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Component:   %s\n", m.Component)
	if m.Occurrences > 0 {
		fmt.Fprintf(&b, "Occurrences: %d in the recent window\n", m.Occurrences)
	}
	if m.Path != "" {
		fmt.Fprintf(&b, "Request:     %s %s\n", m.Method, m.Path)
	}
	if m.Environment != "" {
		fmt.Fprintf(&b, "Environment: %s\n", m.Environment)
	}
	fmt.Fprintf(&b, "Event:       %s\n", m.EventID)
	fmt.Fprintf(&b, "Fingerprint: %s\n", m.Hash)
	fmt.Fprintf(&b, "Time:        %s\n", m.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}

// Transport delivers one message through one channel.
// Send must return within the context deadline.
type Transport interface {
	Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, ch domain.NotificationChannel, msg *Message) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error {
	return f(ctx, ch, msg)
}

// Mux routes each send to the transport registered for the channel type.
type Mux struct {
	transports map[domain.ChannelType]Transport
}

// NewMux creates an empty router.
func NewMux() *Mux {
	return &Mux{transports: make(map[domain.ChannelType]Transport)}
}

// Register sets the transport for a channel type.
func (m *Mux) Register(t domain.ChannelType, transport Transport) {
	m.transports[t] = transport
}

// Send delivers msg through the transport for ch.Type.
func (m *Mux) Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error {
	transport, ok := m.transports[ch.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTransport, ch.Type)
	}
	return transport.Send(ctx, ch, msg)
}
