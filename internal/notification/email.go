package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"faultline/internal/domain"
)

// Email channel config keys.
const (
	ConfigSMTPHost = "smtp_host"
	ConfigSMTPPort = "smtp_port"
	ConfigFrom     = "from"
	ConfigTo       = "to"
	ConfigUsername = "username"
	ConfigPassword = "password"
)

// ErrMissingRecipients is returned when an email channel has no recipients.
var ErrMissingRecipients = errors.New("email channel requires smtp_host, from and to")

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailTransport sends the message as a plain-text email over SMTP.
type EmailTransport struct {
	send sendMailFunc
}

// NewEmailTransport creates an SMTP email transport.
func NewEmailTransport() *EmailTransport {
	return &EmailTransport{send: smtp.SendMail}
}

// Send delivers msg to the comma-separated "to" addresses. smtp.SendMail has
// no context support, so the send runs in its own goroutine and Send returns
// when the context is done even if the SMTP exchange is still in progress.
func (t *EmailTransport) Send(ctx context.Context, ch domain.NotificationChannel, msg *Message) error {
	host := ch.Config[ConfigSMTPHost]
	from := ch.Config[ConfigFrom]
	to := splitAddresses(ch.Config[ConfigTo])
	if host == "" || from == "" || len(to) == 0 {
		return ErrMissingRecipients
	}

	port := ch.Config[ConfigSMTPPort]
	if port == "" {
		port = "25"
	}

	var auth smtp.Auth
	if user := ch.Config[ConfigUsername]; user != "" {
		auth = smtp.PlainAuth("", user, ch.Config[ConfigPassword], host)
	}

	body := buildEmail(from, to, msg)
	done := make(chan error, 1)
	go func() {
		done <- t.send(net.JoinHostPort(host, port), auth, from, to, body)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildEmail(from string, to []string, msg *Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject()))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text(), "\n", "\r\n"))
	return []byte(b.String())
}

// sanitizeHeader keeps a failure message from injecting extra headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func splitAddresses(s string) []string {
	var out []string
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
