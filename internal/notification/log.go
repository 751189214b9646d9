package notification

import (
	"context"
	"log/slog"

	"faultline/internal/domain"
)

// LogTransport writes notifications to the structured log.
// It is the default transport and needs no configuration.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a new log transport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{
		logger: logger,
	}
}

// Send logs the notification at warn level, or error level for critical alerts.
func (t *LogTransport) Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error {
	level := slog.LevelWarn
	if msg.Severity == domain.SeverityCritical {
		level = slog.LevelError
	}

	t.logger.Log(ctx, level, "error alert",
		"channel", ch.Name,
		"rule", msg.Rule,
		"hash", msg.Hash,
		"eventID", msg.EventID,
		"type", msg.Type,
		"message", msg.Message,
		"component", msg.Component,
		"severity", msg.Severity,
		"occurrences", msg.Occurrences,
	)
	return nil
}
