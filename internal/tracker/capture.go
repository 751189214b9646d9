package tracker

import (
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"faultline/internal/domain"
	"faultline/internal/fingerprint"
	"faultline/internal/metrics"
)

// Capture records a failure and returns its event id. It never panics and
// never blocks on I/O. On an internal failure it logs locally, queues
// nothing and returns domain.PlaceholderEventID.
func (t *Tracker) Capture(f domain.Failure, ec *domain.ErrorContext) (eventID string) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			t.captureFailed("panic", f, fmt.Errorf("panic: %v", r))
			eventID = domain.PlaceholderEventID
		}
	}()

	var raw domain.ErrorContext
	if ec != nil {
		raw = *ec
	}
	ctx := t.prepareContext(raw)

	fp, err := fingerprint.Compute(f, ctx)
	if err != nil {
		t.captureFailed("fingerprint", f, err)
		return domain.PlaceholderEventID
	}

	event := &domain.ErrorEvent{
		Fingerprint: fp,
		Context:     ctx,
		Severity:    domain.ClassifySeverity(fp, ctx),
		ArrivedAt:   t.now(),
	}

	// Alerts are handed off before buffering so the flush cycle never delays them.
	t.dispatcher.Enqueue(event)

	if err := t.buffer.Add(event); err != nil {
		t.captureFailed("buffer", f, err)
		return domain.PlaceholderEventID
	}
	metrics.BufferDepth.Set(float64(t.buffer.Len()))

	metrics.EventsCapturedTotal.WithLabelValues(string(event.Severity)).Inc()
	metrics.CaptureLatency.Observe(time.Since(start).Seconds())
	return fp.EventID
}

// CaptureError records a Go error.
func (t *Tracker) CaptureError(err error, ec *domain.ErrorContext) string {
	return t.Capture(domain.FailureFromError(err), ec)
}

// Recover captures a panic in the calling goroutine and swallows it. Use it
// as the first deferred call of a goroutine:
//
//	go func() {
//		defer tr.Recover(&domain.ErrorContext{Component: "worker"})
//		...
//	}()
func (t *Tracker) Recover(ec *domain.ErrorContext) {
	if r := recover(); r != nil {
		id := t.Capture(domain.FailureFromPanic(r, debug.Stack()), ec)
		t.logger.Error("recovered panic", "panic", fmt.Sprint(r), "eventID", id)
	}
}

// prepareContext sanitizes ec and fills the fields capture owns.
func (t *Tracker) prepareContext(ec domain.ErrorContext) domain.ErrorContext {
	ec = t.sanitizer.Context(ec)
	// The event owns its context; later writes by the caller must not reach it.
	ec.Params = maps.Clone(ec.Params)
	ec.AdditionalData = maps.Clone(ec.AdditionalData)

	if ec.Timestamp.IsZero() {
		ec.Timestamp = t.now().UTC()
	}
	if ec.Environment == "" {
		ec.Environment = t.cfg.Environment
	}
	if ec.Version == "" {
		ec.Version = t.cfg.Version
	}

	if ec.Body != nil && !bodyIsEncodable(ec.Body) {
		ec.Body = UnserializableBody
	}
	if ec.AdditionalData != nil && !bodyIsEncodable(ec.AdditionalData) {
		ec.AdditionalData = map[string]any{"error": UnserializableBody}
	}
	return ec
}

func (t *Tracker) captureFailed(stage string, f domain.Failure, err error) {
	metrics.CaptureFailuresTotal.WithLabelValues(stage).Inc()
	t.failureLog.Do(func() {
		t.logger.Error("failed to capture error",
			"stage", stage,
			"failureType", f.Type,
			"failureMessage", f.Message,
			"error", err,
		)
	})
}
