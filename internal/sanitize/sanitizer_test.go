package sanitize

import (
	"testing"

	"faultline/internal/domain"
)

func TestSanitizer_Headers(t *testing.T) {
	s := New()

	got := s.Headers(map[string]any{
		"Authorization":  "Bearer abc",
		"COOKIE":         "sid=1",
		"X-Api-Key":      "k",
		"x-access-token": "t",
		"Content-Type":   "application/json",
		"Accept":         []string{"text/html", "application/json"},
		"X-Retry":        3,
	})

	want := map[string]string{
		"Authorization":  Redacted,
		"COOKIE":         Redacted,
		"X-Api-Key":      Redacted,
		"x-access-token": Redacted,
		"Content-Type":   "application/json",
		"Accept":         "text/html, application/json",
		"X-Retry":        "3",
	}
	if len(got) != len(want) {
		t.Fatalf("Headers() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Headers()[%q] = %q, want %q", k, got[k], v)
		}
	}

	if s.Headers(nil) != nil {
		t.Error("Headers(nil) should be nil")
	}
}

func TestSanitizer_Body(t *testing.T) {
	s := New()

	tests := []struct {
		name   string
		body   any
		masked []string
		kept   map[string]any
	}{
		{
			name:   "top-level keys masked",
			body:   map[string]any{"Password": "p", "token": "t", "secret": "s", "key": "k", "AUTH": "a", "user": "bob"},
			masked: []string{"Password", "token", "secret", "key", "AUTH"},
			kept:   map[string]any{"user": "bob"},
		},
		{
			name:   "similar keys are not masked",
			body:   map[string]any{"api_key": "k", "tokens": 3},
			masked: nil,
			kept:   map[string]any{"api_key": "k", "tokens": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Body(tt.body).(map[string]any)
			if !ok {
				t.Fatalf("Body() returned %T", s.Body(tt.body))
			}
			for _, k := range tt.masked {
				if got[k] != Redacted {
					t.Errorf("%q = %v, want redacted", k, got[k])
				}
			}
			for k, v := range tt.kept {
				if got[k] != v {
					t.Errorf("%q = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestSanitizer_Body_Shallow(t *testing.T) {
	s := New()
	nested := map[string]any{"password": "inner"}
	body := map[string]any{"user": nested}

	got := s.Body(body).(map[string]any)
	inner := got["user"].(map[string]any)
	if inner["password"] != "inner" {
		t.Errorf("nested password = %v, want it passed through unmodified", inner["password"])
	}

	// The caller's map must not be modified.
	raw := map[string]any{"password": "p"}
	s.Body(raw)
	if raw["password"] != "p" {
		t.Error("Body() mutated its input")
	}
}

func TestSanitizer_Body_OtherShapes(t *testing.T) {
	s := New()

	for _, body := range []any{nil, "password=1", 42, []any{"a"}} {
		got := s.Body(body)
		if str, ok := body.(string); ok && got != str {
			t.Errorf("Body(%v) = %v, want unchanged", body, got)
		}
	}

	got := s.Body(map[string]string{"token": "t", "x": "y"}).(map[string]string)
	if got["token"] != Redacted || got["x"] != "y" {
		t.Errorf("Body(map[string]string) = %v", got)
	}
}

func TestSanitizer_Context(t *testing.T) {
	s := New()
	ec := domain.ErrorContext{
		Path:    "/login",
		Headers: map[string]string{"Cookie": "sid", "Host": "api"},
		Body:    map[string]any{"password": "hunter2"},
	}

	got := s.Context(ec)
	if got.Headers["Cookie"] != Redacted || got.Headers["Host"] != "api" {
		t.Errorf("Headers = %v", got.Headers)
	}
	if got.Body.(map[string]any)["password"] != Redacted {
		t.Errorf("Body = %v", got.Body)
	}
	if ec.Headers["Cookie"] != "sid" {
		t.Error("Context() mutated the original headers")
	}
	if got.Path != "/login" {
		t.Errorf("Path = %q", got.Path)
	}
}
