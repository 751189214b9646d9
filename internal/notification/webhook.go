package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"faultline/internal/domain"
)

// Webhook channel config keys.
const (
	ConfigURL    = "url"
	ConfigSecret = "secret"
)

// SecretHeader carries the channel's shared secret, when configured.
const SecretHeader = "X-Faultline-Secret"

// ErrMissingURL is returned when a webhook channel has no url configured.
var ErrMissingURL = errors.New("webhook channel requires a url")

// WebhookTransport posts the message as JSON using fiber's HTTP client.
type WebhookTransport struct {
	// timeout applies when the context carries no deadline.
	timeout time.Duration
}

// NewWebhookTransport creates a webhook transport.
func NewWebhookTransport(timeout time.Duration) *WebhookTransport {
	return &WebhookTransport{timeout: timeout}
}

// Send posts msg to the channel's url. Any non-2xx response is an error.
func (t *WebhookTransport) Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error {
	url := ch.Config[ConfigURL]
	if url == "" {
		return ErrMissingURL
	}

	timeout := t.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	agent := fiber.Post(url).JSON(msg).Timeout(timeout)
	if secret := ch.Config[ConfigSecret]; secret != "" {
		agent.Set(SecretHeader, secret)
	}
	if err := agent.Parse(); err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("failed to post webhook: %w", errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d: %s", code, truncate(string(body), 256))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
