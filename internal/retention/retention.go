// Package retention periodically deletes error groups nobody has seen for
// longer than the configured maximum age.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"faultline/internal/metrics"
	"faultline/internal/store"
)

// ErrInvalidMaxAge is returned for a non-positive maximum age.
var ErrInvalidMaxAge = errors.New("retention max age must be positive")

// Job runs DeleteOlderThan on a cron schedule.
type Job struct {
	groups   store.GroupRepository
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a retention job. The schedule uses standard cron syntax or a
// descriptor such as "@daily".
func New(groups store.GroupRepository, schedule string, maxAge time.Duration, logger *slog.Logger) (*Job, error) {
	if maxAge <= 0 {
		return nil, ErrInvalidMaxAge
	}

	cl := cronLogger{logger: logger}
	j := &Job{
		groups:   groups,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("failed to parse retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running the job on its schedule.
func (j *Job) Start() {
	j.cron.Start()
	j.logger.Info("retention job started", "schedule", j.schedule, "maxAge", j.maxAge)
}

// Stop stops the scheduler and waits for a running pass, or for ctx.
func (j *Job) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retention job did not stop: %w", ctx.Err())
	}
}

// RunOnce deletes every group last seen before now minus the max age.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.maxAge)

	deleted, err := j.groups.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("groups", "delete_older_than", "failure").Inc()
		return 0, fmt.Errorf("failed to delete expired groups: %w", err)
	}
	metrics.StorageOperationsTotal.WithLabelValues("groups", "delete_older_than", "success").Inc()
	metrics.RetentionDeletedTotal.Add(float64(deleted))

	j.logger.Info("retention pass complete", "deleted", deleted, "cutoff", cutoff)
	return deleted, nil
}

func (j *Job) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("retention pass failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
