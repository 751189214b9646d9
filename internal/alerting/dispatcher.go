// Package alerting evaluates alert rules for captured events and fans
// notifications out to the configured channels.
//
// Two rules exist. A critical event notifies every enabled channel at once.
// Every event also bumps a per-hash recent-occurrence counter in the counter
// store, and a channel is notified once that counter exceeds the channel's
// threshold. Each channel enforces its own cooldown per condition, so a rule
// that keeps firing notifies a channel at most once per cooldown window.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"faultline/internal/domain"
	"faultline/internal/metrics"
	"faultline/internal/notification"
	"faultline/internal/store"
)

// Config holds dispatcher settings.
type Config struct {
	// DefaultThreshold applies to channels with no threshold of their own.
	DefaultThreshold int64

	// RecentWindow is the expiry of the recent-occurrence counter.
	RecentWindow time.Duration

	// QueueSize bounds the number of events waiting for evaluation.
	QueueSize int

	// Workers is the number of evaluation goroutines.
	Workers int

	// SendTimeout bounds one fan-out.
	SendTimeout time.Duration
}

// DefaultConfig returns the standard dispatcher settings.
func DefaultConfig() Config {
	return Config{
		DefaultThreshold: 10,
		RecentWindow:     time.Hour,
		QueueSize:        1024,
		Workers:          4,
		SendTimeout:      5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = def.DefaultThreshold
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = def.RecentWindow
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
}

// Dispatcher evaluates alert rules off the capture path.
// Enqueue never blocks; a bounded set of workers runs Evaluate.
type Dispatcher struct {
	counters  store.CounterStore
	transport notification.Transport
	channels  []*channelState
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	queue  chan *domain.ErrorEvent
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher for a static list of channels.
// Disabled channels are kept out of every evaluation.
func NewDispatcher(
	counters store.CounterStore,
	transport notification.Transport,
	channels []domain.NotificationChannel,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	cfg.applyDefaults()

	states := make([]*channelState, 0, len(channels))
	for _, ch := range channels {
		if !ch.Enabled {
			logger.Info("notification channel disabled", "channel", ch.Name)
			continue
		}
		states = append(states, newChannelState(ch))
	}

	return &Dispatcher{
		counters:  counters,
		transport: transport,
		channels:  states,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		queue:     make(chan *domain.ErrorEvent, cfg.QueueSize),
	}
}

// Start launches the evaluation workers. Workers keep running after ctx is
// canceled so Stop can drain the queue; Stop ends them.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(base)
	}
	d.logger.Info("alert dispatcher started",
		"workers", d.cfg.Workers,
		"channels", len(d.channels),
	)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for event := range d.queue {
		d.safeEvaluate(ctx, event)
	}
}

func (d *Dispatcher) safeEvaluate(ctx context.Context, event *domain.ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during alert evaluation",
				"hash", event.Hash(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	d.Evaluate(ctx, event)
}

// Enqueue hands an event to the workers without blocking.
// Returns false if the queue is full or the dispatcher is stopped.
func (d *Dispatcher) Enqueue(event *domain.ErrorEvent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.AlertsDroppedTotal.Inc()
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		metrics.AlertsDroppedTotal.Inc()
		d.logger.Warn("alert queue full, dropping event",
			"hash", event.Hash(),
			"eventID", event.Fingerprint.EventID,
		)
		return false
	}
}

// Stop closes the queue and waits for the workers to drain it, or for ctx
// to be done, whichever comes first.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("alert dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert dispatcher did not drain: %w", ctx.Err())
	}
}

// delivery is one message bound for one channel.
type delivery struct {
	state *channelState
	msg   *notification.Message
}

// Evaluate applies both rules to event and sends the resulting
// notifications. It returns once every send finished or the send timeout
// elapsed.
func (d *Dispatcher) Evaluate(ctx context.Context, event *domain.ErrorEvent) {
	var deliveries []delivery

	if event.Severity == domain.SeverityCritical {
		metrics.AlertsTriggeredTotal.WithLabelValues(string(notification.RuleCritical)).Inc()
		msg := notification.NewMessage(notification.RuleCritical, event, 0)
		for _, cs := range d.channels {
			deliveries = append(deliveries, delivery{state: cs, msg: msg})
		}
	}

	if count, ok := d.recordOccurrence(ctx, event.Hash()); ok {
		var msg *notification.Message
		for _, cs := range d.channels {
			if count <= cs.threshold(d.cfg.DefaultThreshold) {
				continue
			}
			if msg == nil {
				metrics.AlertsTriggeredTotal.WithLabelValues(string(notification.RuleFrequency)).Inc()
				msg = notification.NewMessage(notification.RuleFrequency, event, count)
			}
			deliveries = append(deliveries, delivery{state: cs, msg: msg})
		}
	}

	if len(deliveries) > 0 {
		d.fanOut(ctx, deliveries)
	}
}

// recordOccurrence bumps the recent counter for hash. The expiry is set on
// the first increment so the window starts at the first occurrence.
func (d *Dispatcher) recordOccurrence(ctx context.Context, hash string) (int64, bool) {
	key := store.RecentKey(hash)

	count, err := d.counters.Increment(ctx, key)
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("counters", "increment", "failure").Inc()
		d.logger.Warn("failed to record recent occurrence", "hash", hash, "error", err)
		return 0, false
	}

	if count == 1 {
		if err := d.counters.Expire(ctx, key, d.cfg.RecentWindow); err != nil {
			metrics.StorageOperationsTotal.WithLabelValues("counters", "expire", "failure").Inc()
			d.logger.Warn("failed to set recent occurrence expiry", "hash", hash, "error", err)
		}
	}
	return count, true
}

// fanOut sends every delivery on its own goroutine. One channel's failure or
// slowness never affects another.
func (d *Dispatcher) fanOut(ctx context.Context, deliveries []delivery) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, dl := range deliveries {
		ch := dl.state.channel
		reservedAt := d.now()
		if !dl.state.reserve(dl.msg.Condition, reservedAt) {
			metrics.NotificationsSentTotal.WithLabelValues(ch.Name, "cooldown").Inc()
			d.logger.Debug("notification suppressed by cooldown",
				"channel", ch.Name,
				"condition", dl.msg.Condition,
			)
			continue
		}

		wg.Add(1)
		go func(dl delivery) {
			defer wg.Done()
			d.send(ctx, dl, reservedAt)
		}(dl)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("notification fan-out timed out", "timeout", d.cfg.SendTimeout)
	}
}

func (d *Dispatcher) send(ctx context.Context, dl delivery, reservedAt time.Time) {
	ch := dl.state.channel
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			dl.state.release(dl.msg.Condition, reservedAt)
			metrics.NotificationsSentTotal.WithLabelValues(ch.Name, "failure").Inc()
			d.logger.Error("panic in notification transport", "channel", ch.Name, "panic", fmt.Sprint(r))
		}
	}()

	err := d.transport.Send(ctx, ch, dl.msg)
	metrics.NotificationLatency.WithLabelValues(ch.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		// A failed send must not start a cooldown, or the next firing would
		// be suppressed although nobody was notified.
		dl.state.release(dl.msg.Condition, reservedAt)
		metrics.NotificationsSentTotal.WithLabelValues(ch.Name, "failure").Inc()
		d.logger.Error("failed to send notification",
			"channel", ch.Name,
			"type", ch.Type,
			"condition", dl.msg.Condition,
			"error", err,
		)
		return
	}

	metrics.NotificationsSentTotal.WithLabelValues(ch.Name, "success").Inc()
	d.logger.Info("notification sent",
		"channel", ch.Name,
		"rule", dl.msg.Rule,
		"hash", dl.msg.Hash,
	)
}

// Channels returns the enabled channels.
func (d *Dispatcher) Channels() []domain.NotificationChannel {
	out := make([]domain.NotificationChannel, 0, len(d.channels))
	for _, cs := range d.channels {
		out = append(out, cs.channel)
	}
	return out
}
