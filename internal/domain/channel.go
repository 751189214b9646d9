package domain

import (
	"errors"
	"time"
)

// ChannelType identifies the transport a notification channel delivers through.
type ChannelType string

const (
	ChannelTypeLog     ChannelType = "log"
	ChannelTypeWebhook ChannelType = "webhook"
	ChannelTypeEmail   ChannelType = "email"
	ChannelTypeKafka   ChannelType = "kafka"
)

// Validation errors for NotificationChannel.
var (
	ErrEmptyChannelName   = errors.New("channel name is required")
	ErrInvalidChannelType = errors.New("channel type must be 'log', 'webhook', 'email', or 'kafka'")
	ErrNegativeThreshold  = errors.New("channel threshold must not be negative")
	ErrNegativeCooldown   = errors.New("channel cooldown must not be negative")
)

// IsValid returns true if the channel type is a known value.
func (t ChannelType) IsValid() bool {
	switch t {
	case ChannelTypeLog, ChannelTypeWebhook, ChannelTypeEmail, ChannelTypeKafka:
		return true
	default:
		return false
	}
}

// NotificationChannel is a statically configured alert destination.
type NotificationChannel struct {
	// Name identifies the channel in logs and metrics.
	Name string `json:"name" yaml:"name"`

	// Type selects the transport.
	Type ChannelType `json:"type" yaml:"type"`

	// Enabled toggles delivery without removing the channel.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Threshold is the recent-occurrence count that must be exceeded before a
	// frequency alert goes out. Zero uses the dispatcher default.
	Threshold int64 `json:"threshold" yaml:"threshold"`

	// Cooldown is the minimum interval between two notifications for the
	// same condition.
	Cooldown time.Duration `json:"cooldown" yaml:"cooldown"`

	// Config carries transport settings such as "url", "to" or "topic".
	Config map[string]string `json:"config,omitempty" yaml:"config"`
}

// Validate checks the channel has a name, a known type and sane limits.
func (c *NotificationChannel) Validate() error {
	if c.Name == "" {
		return ErrEmptyChannelName
	}
	if !c.Type.IsValid() {
		return ErrInvalidChannelType
	}
	if c.Threshold < 0 {
		return ErrNegativeThreshold
	}
	if c.Cooldown < 0 {
		return ErrNegativeCooldown
	}
	return nil
}
