// Package tracker is the entry point of the capture pipeline.
//
// Capture sanitizes, fingerprints and classifies a failure, appends it to the
// in-memory buffer and hands it to the alert dispatcher. It performs no I/O
// and never panics. A background loop drains the buffer into the aggregator
// on a fixed interval; Stop runs one final flush.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"faultline/internal/buffer"
	"faultline/internal/domain"
	"faultline/internal/metrics"
	"faultline/internal/sanitize"
)

// ErrFlushInProgress is returned by Flush when another flush is running.
var ErrFlushInProgress = errors.New("flush already in progress")

// UnserializableBody replaces a request body that cannot be encoded.
const UnserializableBody = "[unserializable body]"

// Aggregator persists drained batches.
type Aggregator interface {
	Flush(ctx context.Context, batch []*domain.ErrorEvent) error
}

// AlertDispatcher evaluates alert rules off the capture path.
type AlertDispatcher interface {
	Start(ctx context.Context)
	Enqueue(event *domain.ErrorEvent) bool
	Stop(ctx context.Context) error
}

// StatsReporter answers stats queries.
type StatsReporter interface {
	GetStats(ctx context.Context, window domain.StatsWindow) (*domain.StatsReport, error)
}

// Config holds tracker settings.
type Config struct {
	// FlushInterval is the period of the background flush. It also bounds
	// how long a single flush may run.
	FlushInterval time.Duration

	// Environment and Version are stamped onto contexts that omit them.
	Environment string
	Version     string
}

// Tracker owns the buffer and the flush loop.
type Tracker struct {
	sanitizer  *sanitize.Sanitizer
	buffer     *buffer.Buffer
	aggregator Aggregator
	dispatcher AlertDispatcher
	stats      StatsReporter
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	// flushMu admits one flush at a time.
	flushMu sync.Mutex

	stopCh   chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	stopErr  error

	// failureLog throttles capture-failure logs so a broken pipeline cannot
	// flood the log.
	failureLog rate.Sometimes
}

// New creates a tracker.
func New(
	aggregator Aggregator,
	dispatcher AlertDispatcher,
	stats StatsReporter,
	cfg Config,
	logger *slog.Logger,
) *Tracker {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	return &Tracker{
		sanitizer:  sanitize.New(),
		buffer:     buffer.New(),
		aggregator: aggregator,
		dispatcher: dispatcher,
		stats:      stats,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
		failureLog: rate.Sometimes{First: 10, Interval: 10 * time.Second},
	}
}

// Start launches the alert workers and the flush loop.
func (t *Tracker) Start(ctx context.Context) {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	t.dispatcher.Start(ctx)
	go t.loop(context.WithoutCancel(ctx))

	t.logger.Info("tracker started", "flushInterval", t.cfg.FlushInterval)
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.loopDone)

	ticker := time.NewTicker(t.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, t.cfg.FlushInterval)
			err := t.Flush(flushCtx)
			cancel()
			if err != nil && !errors.Is(err, ErrFlushInProgress) {
				t.logger.Error("scheduled flush failed", "error", err)
			}
		}
	}
}

// Stop stops the flush loop, drains the alert queue and runs exactly one
// final flush. Events still failing after it are reported as lost. Safe to
// call more than once.
func (t *Tracker) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		if t.started.Load() {
			<-t.loopDone
		}
		t.buffer.Close()

		if err := t.dispatcher.Stop(ctx); err != nil {
			t.logger.Warn("alert queue not fully drained", "error", err)
		}

		t.flushMu.Lock()
		err := t.flushLocked(ctx)
		t.flushMu.Unlock()

		if err != nil {
			t.logger.Error("final flush failed, buffered events lost",
				"events", t.buffer.Len(),
				"error", err,
			)
			t.stopErr = err
			return
		}
		t.logger.Info("tracker stopped")
	})
	return t.stopErr
}

// Flush drains the buffer into the aggregator. A failed batch is requeued
// ahead of newer events. Returns ErrFlushInProgress without waiting if
// another flush is running.
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.flushMu.TryLock() {
		metrics.FlushesTotal.WithLabelValues("skipped").Inc()
		t.logger.Debug("flush skipped, previous flush still running")
		return ErrFlushInProgress
	}
	defer t.flushMu.Unlock()

	return t.flushLocked(ctx)
}

// flushLocked runs one flush. Caller must hold flushMu.
func (t *Tracker) flushLocked(ctx context.Context) error {
	batch := t.buffer.Drain()
	if len(batch) == 0 {
		metrics.FlushesTotal.WithLabelValues("empty").Inc()
		return nil
	}

	start := time.Now()
	metrics.FlushBatchSize.Observe(float64(len(batch)))

	err := t.safeFlush(ctx, batch)
	metrics.FlushLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		t.buffer.Requeue(batch)
		metrics.FlushesTotal.WithLabelValues("failure").Inc()
		metrics.EventsRequeuedTotal.Add(float64(len(batch)))
		metrics.BufferDepth.Set(float64(t.buffer.Len()))
		return fmt.Errorf("failed to flush %d events: %w", len(batch), err)
	}

	metrics.FlushesTotal.WithLabelValues("success").Inc()
	metrics.BufferDepth.Set(float64(t.buffer.Len()))
	t.logger.Debug("buffer flushed",
		"events", len(batch),
		"duration", time.Since(start),
	)
	return nil
}

func (t *Tracker) safeFlush(ctx context.Context, batch []*domain.ErrorEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during flush: %v", r)
			t.logger.Error("panic during flush", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	return t.aggregator.Flush(ctx, batch)
}

// Buffered returns the number of events waiting for the next flush.
func (t *Tracker) Buffered() int {
	return t.buffer.Len()
}

// GetStats returns the stats report for window.
func (t *Tracker) GetStats(ctx context.Context, window domain.StatsWindow) (*domain.StatsReport, error) {
	return t.stats.GetStats(ctx, window)
}

// bodyIsEncodable reports whether v survives JSON encoding. Cyclic values
// fail here instead of inside the durable store.
func bodyIsEncodable(v any) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_, err := json.Marshal(v)
	return err == nil
}
