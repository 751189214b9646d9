package aggregator

import (
	"context"
	"time"

	"faultline/internal/metrics"
	"faultline/internal/store"
)

// counterDelta is one IncrementBy to perform, with the expiry of its bucket.
type counterDelta struct {
	delta int64
	ttl   time.Duration
}

// updateCounters bumps the time-bucketed counters for a committed group.
// Failures are logged per key; the durable write already happened and is
// never undone.
func (a *Aggregator) updateCounters(ctx context.Context, g *hashGroup) {
	deltas := make(map[string]*counterDelta)
	days := make(map[string]struct{})

	add := func(key string, ttl time.Duration) {
		d, ok := deltas[key]
		if !ok {
			d = &counterDelta{ttl: ttl}
			deltas[key] = d
		}
		d.delta++
	}

	for _, e := range g.events {
		at := e.OccurredAt()
		day := store.DayBucket(at)
		days[day] = struct{}{}

		add(store.DailyKey(day), store.DayBucketTTL)
		add(store.HourlyKey(store.HourBucket(at)), store.HourBucketTTL)
		add(store.TypeKey(e.Fingerprint.Type, day), store.DayBucketTTL)
		add(store.ComponentKey(e.Fingerprint.Component, day), store.DayBucketTTL)
	}

	for key, d := range deltas {
		if _, err := a.counters.IncrementBy(ctx, key, d.delta); err != nil {
			a.counterFailed("increment", key, err)
			continue
		}
		if err := a.counters.Expire(ctx, key, d.ttl); err != nil {
			a.counterFailed("expire", key, err)
		}
	}

	for day := range days {
		key := store.UniqueKey(day)
		if err := a.counters.AddToSet(ctx, key, g.hash); err != nil {
			a.counterFailed("add_to_set", key, err)
			continue
		}
		if err := a.counters.Expire(ctx, key, store.DayBucketTTL); err != nil {
			a.counterFailed("expire", key, err)
		}
	}
}

func (a *Aggregator) counterFailed(op, key string, err error) {
	metrics.StorageOperationsTotal.WithLabelValues("counters", op, "failure").Inc()
	a.logger.Warn("failed to update counter",
		"operation", op,
		"key", key,
		"error", err,
	)
}
