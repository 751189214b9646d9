// Package ingest feeds capture requests published by remote services into
// the local tracker.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"faultline/internal/domain"
	"faultline/internal/metrics"
	"faultline/internal/queue"
)

// Errors returned for messages that can never be captured.
var (
	ErrMalformedMessage = errors.New("malformed capture message")
	ErrUnexpectedKind   = errors.New("unexpected message kind")
)

// CaptureRequest is the wire format of a capture, shared by the queue and
// the HTTP API.
type CaptureRequest struct {
	Type    string               `json:"type"`
	Message string               `json:"message"`
	Stack   string               `json:"stack,omitempty"`
	Context *domain.ErrorContext `json:"context,omitempty"`
}

// Failure returns the failure described by the request.
func (r *CaptureRequest) Failure() domain.Failure {
	return domain.Failure{Type: r.Type, Message: r.Message, Stack: r.Stack}
}

// NewCaptureMessage encodes req as a queue message keyed by component, so a
// component's captures stay ordered on one partition.
func NewCaptureMessage(req *CaptureRequest) (*queue.Message, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize capture request: %w", err)
	}

	component := domain.DefaultComponent
	if req.Context != nil && req.Context.Component != "" {
		component = req.Context.Component
	}

	return &queue.Message{
		Key:   []byte(component),
		Value: payload,
		Headers: map[string]string{
			queue.HeaderKind: queue.KindCapture,
		},
	}, nil
}

// Capturer records a failure. Implemented by tracker.Tracker.
type Capturer interface {
	Capture(f domain.Failure, ec *domain.ErrorContext) string
}

// Service consumes capture requests and hands them to the tracker.
type Service struct {
	consumer queue.Consumer
	capturer Capturer
	logger   *slog.Logger
}

// NewService creates a new ingest service.
func NewService(consumer queue.Consumer, capturer Capturer, logger *slog.Logger) *Service {
	return &Service{
		consumer: consumer,
		capturer: capturer,
		logger:   logger,
	}
}

// Run consumes until ctx is canceled or the consumer fails.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("ingest service started")
	err := s.consumer.Start(ctx, s.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("capture consumer stopped: %w", err)
	}
	return nil
}

// HandleMessage decodes one capture message and captures it.
// Malformed messages are rejected; the consumer decides whether to commit.
func (s *Service) HandleMessage(ctx context.Context, msg *queue.Message) error {
	if kind, ok := msg.Headers[queue.HeaderKind]; ok && kind != queue.KindCapture {
		metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %q", ErrUnexpectedKind, kind)
	}

	var req CaptureRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("failed to decode capture message", "key", string(msg.Key), "error", err)
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	id := s.capturer.Capture(req.Failure(), req.Context)
	metrics.IngestMessagesTotal.WithLabelValues("captured").Inc()

	s.logger.Debug("remote capture recorded",
		"eventID", id,
		"type", req.Type,
		"key", string(msg.Key),
	)
	return nil
}
