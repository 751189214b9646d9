package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"faultline/internal/domain"
	"faultline/internal/queue"
	"faultline/internal/queue/memory"
)

type recordingCapturer struct {
	mu       sync.Mutex
	failures []domain.Failure
	contexts []*domain.ErrorContext
}

func (c *recordingCapturer) Capture(f domain.Failure, ec *domain.ErrorContext) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
	c.contexts = append(c.contexts, ec)
	return "evt"
}

func (c *recordingCapturer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failures)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestService_HandleMessage(t *testing.T) {
	capturer := &recordingCapturer{}
	service := NewService(memory.NewQueue(1), capturer, testLogger())
	ctx := context.Background()

	msg, err := NewCaptureMessage(&CaptureRequest{
		Type:    "DatabaseError",
		Message: "connection refused",
		Stack:   "at db (/srv/app/db.js:10:5)",
		Context: &domain.ErrorContext{Component: "orders", Path: "/orders"},
	})
	if err != nil {
		t.Fatalf("NewCaptureMessage() error = %v", err)
	}
	if string(msg.Key) != "orders" {
		t.Errorf("Key = %q, want orders", msg.Key)
	}

	if err := service.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	if capturer.count() != 1 {
		t.Fatalf("captures = %d, want 1", capturer.count())
	}
	got := capturer.failures[0]
	if got.Type != "DatabaseError" || got.Message != "connection refused" || got.Stack == "" {
		t.Errorf("failure = %+v", got)
	}
	if capturer.contexts[0] == nil || capturer.contexts[0].Path != "/orders" {
		t.Errorf("context = %+v", capturer.contexts[0])
	}
}

func TestService_HandleMessage_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		msg     *queue.Message
		wantErr error
	}{
		{
			name:    "invalid json",
			msg:     &queue.Message{Value: []byte("{not json")},
			wantErr: ErrMalformedMessage,
		},
		{
			name: "alert kind",
			msg: &queue.Message{
				Value:   []byte(`{"type":"Error"}`),
				Headers: map[string]string{queue.HeaderKind: queue.KindAlert},
			},
			wantErr: ErrUnexpectedKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capturer := &recordingCapturer{}
			service := NewService(memory.NewQueue(1), capturer, testLogger())

			err := service.HandleMessage(context.Background(), tt.msg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleMessage() error = %v, want %v", err, tt.wantErr)
			}
			if capturer.count() != 0 {
				t.Error("rejected message should not be captured")
			}
		})
	}
}

func TestService_NoContext(t *testing.T) {
	capturer := &recordingCapturer{}
	service := NewService(memory.NewQueue(1), capturer, testLogger())

	msg, err := NewCaptureMessage(&CaptureRequest{Message: "bare"})
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != domain.DefaultComponent {
		t.Errorf("Key = %q, want %q", msg.Key, domain.DefaultComponent)
	}
	if err := service.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if capturer.contexts[0] != nil {
		t.Errorf("context = %+v, want nil", capturer.contexts[0])
	}
}

func TestService_Run(t *testing.T) {
	q := memory.NewQueue(10)
	capturer := &recordingCapturer{}
	service := NewService(q, capturer, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	for i := 0; i < 3; i++ {
		msg, _ := NewCaptureMessage(&CaptureRequest{Type: "Error", Message: "remote"})
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := q.Publish(ctx, &queue.Message{Value: []byte("garbage")}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for (capturer.count() < 3 || q.Failed() < 1) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil on cancel", err)
	}
	if capturer.count() != 3 {
		t.Errorf("captures = %d, want 3", capturer.count())
	}
	if q.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", q.Failed())
	}
}
