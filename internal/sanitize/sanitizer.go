// Package sanitize masks sensitive request data before it is stored or sent.
//
// Body masking is shallow: only top-level keys are inspected and nested
// structures are passed through as-is. Deep masking would change what is
// considered safe at rest and is intentionally not done here.
package sanitize

import (
	"fmt"
	"strings"

	"faultline/internal/domain"
)

// Redacted replaces every masked value.
const Redacted = "[REDACTED]"

// Deny-lists, compared case-insensitively against the whole key.
var (
	sensitiveHeaders = []string{"authorization", "cookie", "x-api-key", "x-access-token"}
	sensitiveFields  = []string{"password", "token", "secret", "key", "auth"}
)

// Sanitizer strips sensitive fields from captured context.
// The zero value is ready to use and safe for concurrent use.
type Sanitizer struct{}

// New creates a sanitizer.
func New() *Sanitizer {
	return &Sanitizer{}
}

// Headers returns a copy of raw with sensitive headers redacted and every
// other value coerced to a string.
func (s *Sanitizer) Headers(raw map[string]any) (out map[string]string) {
	if raw == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
		}
	}()

	out = make(map[string]string, len(raw))
	for k, v := range raw {
		if matches(k, sensitiveHeaders) {
			out[k] = Redacted
			continue
		}
		out[k] = headerValue(v)
	}
	return out
}

// StringHeaders is Headers for maps that already hold string values.
func (s *Sanitizer) StringHeaders(raw map[string]string) map[string]string {
	if raw == nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if matches(k, sensitiveHeaders) {
			out[k] = Redacted
			continue
		}
		out[k] = v
	}
	return out
}

// Body returns a shallow copy of an object body with sensitive top-level keys
// masked. Any other shape is returned unchanged, and so is the input if
// masking panics.
func (s *Sanitizer) Body(body any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = body
		}
	}()

	switch b := body.(type) {
	case map[string]any:
		masked := make(map[string]any, len(b))
		for k, v := range b {
			if matches(k, sensitiveFields) {
				masked[k] = Redacted
				continue
			}
			masked[k] = v
		}
		return masked
	case map[string]string:
		masked := make(map[string]string, len(b))
		for k, v := range b {
			if matches(k, sensitiveFields) {
				masked[k] = Redacted
				continue
			}
			masked[k] = v
		}
		return masked
	default:
		return body
	}
}

// Context returns a copy of ec with headers and body sanitized.
func (s *Sanitizer) Context(ec domain.ErrorContext) domain.ErrorContext {
	ec.Headers = s.StringHeaders(ec.Headers)
	ec.Body = s.Body(ec.Body)
	return ec
}

func headerValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func matches(key string, denyList []string) bool {
	for _, d := range denyList {
		if strings.EqualFold(key, d) {
			return true
		}
	}
	return false
}
