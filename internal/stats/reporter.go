// Package stats answers point-in-time questions about captured errors from
// the counter store and the group repository.
package stats

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"faultline/internal/domain"
	"faultline/internal/metrics"
	"faultline/internal/store"
)

// Reporter builds stats reports. Unreadable counters count as zero and a
// failing group repository yields empty lists; only an unknown window is an
// error.
type Reporter struct {
	groups   store.GroupRepository
	counters store.CounterStore
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a reporter listing at most limit top and recent errors.
func New(groups store.GroupRepository, counters store.CounterStore, limit int, logger *slog.Logger) *Reporter {
	if limit <= 0 {
		limit = 10
	}
	return &Reporter{
		groups:   groups,
		counters: counters,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
	}
}

// GetStats returns the report for window.
func (r *Reporter) GetStats(ctx context.Context, window domain.StatsWindow) (*domain.StatsReport, error) {
	if !window.IsValid() {
		return nil, domain.ErrInvalidWindow
	}

	start := time.Now()
	defer func() {
		metrics.StatsQueryLatency.WithLabelValues(string(window)).Observe(time.Since(start).Seconds())
	}()

	now := r.now().UTC()
	days := dayBuckets(now, window.Days())

	report := &domain.StatsReport{
		Window:       window,
		GeneratedAt:  now,
		TopErrors:    []domain.GroupSummary{},
		RecentErrors: []domain.RecentError{},
	}

	// Each part writes its own report fields and never fails.
	var g errgroup.Group
	g.Go(func() error {
		report.TotalErrors = r.total(ctx, days)
		return nil
	})
	g.Go(func() error {
		report.UniqueErrors = r.unique(ctx, days)
		return nil
	})
	g.Go(func() error {
		report.ErrorsByType = r.dimension(ctx, store.TypeKeyPattern, store.TypeKeyPrefix, days)
		return nil
	})
	g.Go(func() error {
		report.ErrorsByComponent = r.dimension(ctx, store.ComponentKeyPattern, store.ComponentKeyPrefix, days)
		return nil
	})
	g.Go(func() error {
		report.TopErrors, report.RecentErrors = r.topAndRecent(ctx, window.Start(now))
		return nil
	})
	_ = g.Wait()

	report.ErrorRate = math.Round(float64(report.TotalErrors)/float64(window.Hours())*100) / 100
	return report, nil
}

// dayBuckets returns the n day buckets ending at now, newest first.
func dayBuckets(now time.Time, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, store.DayBucket(now.AddDate(0, 0, -i)))
	}
	return out
}

// total sums the per-day totals, so every window reads the same day buckets
// as the unique and dimension counts.
func (r *Reporter) total(ctx context.Context, days []string) int64 {
	var sum int64
	for _, day := range days {
		sum += r.get(ctx, store.DailyKey(day))
	}
	return sum
}

func (r *Reporter) unique(ctx context.Context, days []string) int64 {
	seen := make(map[string]struct{})
	for _, day := range days {
		key := store.UniqueKey(day)
		members, err := r.counters.SetMembers(ctx, key)
		if err != nil {
			r.readFailed(key, err)
			continue
		}
		for _, m := range members {
			seen[m] = struct{}{}
		}
	}
	return int64(len(seen))
}

func (r *Reporter) dimension(ctx context.Context, pattern func(string) string, prefix string, days []string) map[string]int64 {
	out := make(map[string]int64)
	for _, day := range days {
		keys, err := r.counters.KeysMatching(ctx, pattern(day))
		if err != nil {
			r.readFailed(pattern(day), err)
			continue
		}
		for _, key := range keys {
			name, ok := store.DimensionFromKey(key, prefix, day)
			if !ok {
				continue
			}
			if n := r.get(ctx, key); n > 0 {
				out[name] += n
			}
		}
	}
	return out
}

func (r *Reporter) topAndRecent(ctx context.Context, since time.Time) ([]domain.GroupSummary, []domain.RecentError) {
	groups, err := r.groups.List(ctx, domain.GroupFilter{Since: since, Limit: r.limit})
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("groups", "list", "failure").Inc()
		r.logger.Warn("failed to list error groups for stats", "error", err)
		return []domain.GroupSummary{}, []domain.RecentError{}
	}

	top := make([]domain.GroupSummary, 0, len(groups))
	var recent []domain.RecentError
	for _, g := range groups {
		top = append(top, domain.GroupSummary{
			ID:          g.ID,
			Hash:        g.Hash,
			Message:     g.Message,
			Type:        g.Type,
			Severity:    g.Severity,
			Status:      g.Status,
			Occurrences: g.Details.Count,
			LastSeen:    g.Details.LastSeen,
		})
		for _, rc := range g.Details.RecentContexts {
			recent = append(recent, domain.RecentError{
				Hash:      g.Hash,
				EventID:   rc.EventID,
				Message:   g.Message,
				Path:      rc.Path,
				Method:    rc.Method,
				Timestamp: rc.Timestamp,
			})
		}
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	if len(recent) > r.limit {
		recent = recent[:r.limit]
	}
	if recent == nil {
		recent = []domain.RecentError{}
	}
	return top, recent
}

func (r *Reporter) get(ctx context.Context, key string) int64 {
	n, err := r.counters.Get(ctx, key)
	if err != nil {
		r.readFailed(key, err)
		return 0
	}
	return n
}

func (r *Reporter) readFailed(key string, err error) {
	metrics.StorageOperationsTotal.WithLabelValues("counters", "read", "failure").Inc()
	r.logger.Warn("failed to read counter, counting as zero", "key", key, "error", err)
}
