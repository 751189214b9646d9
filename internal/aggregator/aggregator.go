// Package aggregator folds buffered error events into durable error groups
// and the fast counter store.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"faultline/internal/domain"
	"faultline/internal/metrics"
	"faultline/internal/store"
)

// ErrFlushFailed is returned when a flush committed nothing, so the caller
// should requeue the whole batch.
var ErrFlushFailed = errors.New("flush failed")

// Config holds aggregator settings.
type Config struct {
	// Parallelism bounds how many hash groups are written at once.
	Parallelism int

	// RecentContexts is the size of each group's recent-context ring.
	RecentContexts int
}

// Aggregator writes batches of events to the group repository and counters.
type Aggregator struct {
	groups   store.GroupRepository
	counters store.CounterStore
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an aggregator.
func New(groups store.GroupRepository, counters store.CounterStore, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.RecentContexts <= 0 {
		cfg.RecentContexts = 5
	}
	return &Aggregator{
		groups:   groups,
		counters: counters,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// hashGroup is the slice of a batch sharing one fingerprint hash, in arrival
// order.
type hashGroup struct {
	hash   string
	events []*domain.ErrorEvent
}

// partition groups a batch by hash, keeping both the order in which hashes
// first appear and the arrival order inside each group.
func partition(batch []*domain.ErrorEvent) []*hashGroup {
	index := make(map[string]*hashGroup)
	var out []*hashGroup
	for _, e := range batch {
		if e == nil {
			continue
		}
		g, ok := index[e.Hash()]
		if !ok {
			g = &hashGroup{hash: e.Hash()}
			index[e.Hash()] = g
			out = append(out, g)
		}
		g.events = append(g.events, e)
	}
	return out
}

// Flush writes batch. A failing hash group is logged and skipped while the
// others commit. ErrFlushFailed is returned only when nothing committed:
// ctx was done before the flush started, or every group failed.
func (a *Aggregator) Flush(ctx context.Context, batch []*domain.ErrorEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrFlushFailed, err)
	}

	groups := partition(batch)
	if len(groups) == 0 {
		return nil
	}

	errs := make([]error, len(groups))

	// Group failures are collected instead of returned so one bad hash
	// never cancels its siblings.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.cfg.Parallelism)
	for i, g := range groups {
		i, g := i, g
		eg.Go(func() error {
			if err := a.flushGroup(egCtx, g); err != nil {
				errs[i] = fmt.Errorf("hash %s: %w", g.hash, err)
				a.logger.Error("failed to aggregate error group",
					"hash", g.hash,
					"events", len(g.events),
					"error", err,
				)
			}
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}

	if failed == len(groups) {
		return fmt.Errorf("%w: %w", ErrFlushFailed, errors.Join(errs...))
	}
	if failed > 0 {
		a.logger.Warn("flush partially failed",
			"groups", len(groups),
			"failed", failed,
		)
	}
	return nil
}

func (a *Aggregator) flushGroup(ctx context.Context, g *hashGroup) error {
	if err := a.upsertGroup(ctx, g); err != nil {
		return err
	}
	a.updateCounters(ctx, g)
	return nil
}

// upsertGroup updates the group for g.hash, or creates it. A concurrent
// create that wins the race turns our create into an update.
func (a *Aggregator) upsertGroup(ctx context.Context, g *hashGroup) error {
	existing, err := a.groups.FindByHash(ctx, g.hash)
	switch {
	case err == nil:
		return a.updateExisting(ctx, existing, g)
	case !errors.Is(err, domain.ErrGroupNotFound):
		metrics.GroupsWrittenTotal.WithLabelValues("find", "failure").Inc()
		return fmt.Errorf("failed to find error group: %w", err)
	}

	group := a.newGroup(g)
	err = a.groups.Create(ctx, group)
	if err == nil {
		metrics.GroupsWrittenTotal.WithLabelValues("create", "success").Inc()
		a.logger.Info("error group created",
			"hash", g.hash,
			"groupID", group.ID,
			"type", group.Type,
			"severity", group.Severity,
		)
		return nil
	}
	if !errors.Is(err, domain.ErrGroupAlreadyExists) {
		metrics.GroupsWrittenTotal.WithLabelValues("create", "failure").Inc()
		return fmt.Errorf("failed to create error group: %w", err)
	}

	existing, err = a.groups.FindByHash(ctx, g.hash)
	if err != nil {
		metrics.GroupsWrittenTotal.WithLabelValues("find", "failure").Inc()
		return fmt.Errorf("failed to find error group after create conflict: %w", err)
	}
	return a.updateExisting(ctx, existing, g)
}

func (a *Aggregator) updateExisting(ctx context.Context, existing *domain.ErrorGroup, g *hashGroup) error {
	latest := latestEvent(g.events)

	patch := domain.GroupPatch{
		Occurrences:    int64(len(g.events)),
		LastSeen:       latest.OccurredAt(),
		RecentContexts: domain.RotateContexts(existing.Details.RecentContexts, recentContexts(g.events), a.cfg.RecentContexts),
		LastIP:         latest.Context.IP,
		LastUserAgent:  latest.Context.UserAgent,
	}

	severity := existing.Severity
	for _, e := range g.events {
		severity = domain.MaxSeverity(severity, e.Severity)
	}
	if severity != existing.Severity {
		patch.Severity = severity
	}

	if existing.Status == domain.GroupStatusResolved {
		patch.Status = domain.GroupStatusNew
		metrics.GroupRegressionsTotal.Inc()
		a.logger.Warn("resolved error group regressed",
			"hash", g.hash,
			"groupID", existing.ID,
		)
	}

	if _, err := a.groups.Update(ctx, existing.ID, patch); err != nil {
		metrics.GroupsWrittenTotal.WithLabelValues("update", "failure").Inc()
		return fmt.Errorf("failed to update error group: %w", err)
	}
	metrics.GroupsWrittenTotal.WithLabelValues("update", "success").Inc()
	return nil
}

func (a *Aggregator) newGroup(g *hashGroup) *domain.ErrorGroup {
	first := g.events[0]
	latest := latestEvent(g.events)

	firstSeen := first.OccurredAt()
	severity := first.Severity
	for _, e := range g.events {
		if t := e.OccurredAt(); t.Before(firstSeen) {
			firstSeen = t
		}
		severity = domain.MaxSeverity(severity, e.Severity)
	}

	now := a.now()
	return &domain.ErrorGroup{
		ID:            uuid.New().String(),
		Hash:          g.hash,
		Type:          first.Fingerprint.Type,
		Message:       first.Fingerprint.Message,
		Stack:         first.Fingerprint.Stack,
		Component:     first.Fingerprint.Component,
		Operation:     first.Context.Operation,
		LastIP:        latest.Context.IP,
		LastUserAgent: latest.Context.UserAgent,
		Severity:      severity,
		Status:        domain.GroupStatusNew,
		Details: domain.GroupDetails{
			Count:          int64(len(g.events)),
			FirstSeen:      firstSeen,
			LastSeen:       latest.OccurredAt(),
			RecentContexts: domain.RotateContexts(nil, recentContexts(g.events), a.cfg.RecentContexts),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// latestEvent returns the event with the latest occurrence time. Ties go to
// the later arrival.
func latestEvent(events []*domain.ErrorEvent) *domain.ErrorEvent {
	latest := events[0]
	for _, e := range events[1:] {
		if !e.OccurredAt().Before(latest.OccurredAt()) {
			latest = e
		}
	}
	return latest
}

func recentContexts(events []*domain.ErrorEvent) []domain.RecentContext {
	out := make([]domain.RecentContext, 0, len(events))
	for _, e := range events {
		out = append(out, domain.NewRecentContext(e))
	}
	return out
}
