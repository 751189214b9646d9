package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"faultline/internal/aggregator"
	"faultline/internal/alerting"
	"faultline/internal/domain"
	"faultline/internal/notification"
	"faultline/internal/stats"
	"faultline/internal/store/memory"
)

// fakeAggregator records batches and can be told to fail or block.
type fakeAggregator struct {
	mu      sync.Mutex
	batches [][]*domain.ErrorEvent
	fail    error
	block   chan struct{}
	entered chan struct{}
}

func (a *fakeAggregator) Flush(ctx context.Context, batch []*domain.ErrorEvent) error {
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.block != nil {
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.batches = append(a.batches, batch)
	return nil
}

func (a *fakeAggregator) setFail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = err
}

func (a *fakeAggregator) eventIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for _, b := range a.batches {
		for _, e := range b {
			ids = append(ids, e.Fingerprint.EventID)
		}
	}
	return ids
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []*notification.Message
}

func (t *recordingTransport) Send(ctx context.Context, ch domain.NotificationChannel, msg *notification.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *recordingTransport) messages() []*notification.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*notification.Message(nil), t.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("Tracker", func() {
	var (
		groups     *memory.GroupRepository
		counters   *memory.CounterStore
		transport  *recordingTransport
		dispatcher *alerting.Dispatcher
		tr         *Tracker
		ctx        context.Context
	)

	newTracker := func(agg Aggregator, interval time.Duration) *Tracker {
		reporter := stats.New(groups, counters, 10, discardLogger())
		return New(agg, dispatcher, reporter, Config{
			FlushInterval: interval,
			Environment:   "test",
			Version:       "1.2.3",
		}, discardLogger())
	}

	BeforeEach(func() {
		ctx = context.Background()
		groups = memory.NewGroupRepository()
		counters = memory.NewCounterStore()
		transport = &recordingTransport{}
		dispatcher = alerting.NewDispatcher(counters, transport, []domain.NotificationChannel{
			{Name: "ops", Type: domain.ChannelTypeLog, Enabled: true, Threshold: 5, Cooldown: time.Minute},
		}, alerting.Config{SendTimeout: time.Second}, discardLogger())
	})

	Context("capturing errors", func() {
		BeforeEach(func() {
			agg := aggregator.New(groups, counters, aggregator.Config{}, discardLogger())
			tr = newTracker(agg, time.Hour)
		})

		AfterEach(func() {
			Expect(tr.Stop(ctx)).To(Succeed())
		})

		It("returns a fresh event id and buffers the event", func() {
			id := tr.CaptureError(errors.New("boom"), &domain.ErrorContext{Component: "orders"})

			Expect(uuid.Validate(id)).To(Succeed())
			Expect(id).NotTo(Equal(domain.PlaceholderEventID))
			Expect(tr.Buffered()).To(Equal(1))
		})

		It("groups identical failures after a flush", func() {
			for i := 0; i < 3; i++ {
				tr.Capture(domain.Failure{Type: "TypeError", Message: "x is undefined"}, &domain.ErrorContext{Component: "cart"})
			}
			tr.Capture(domain.Failure{Type: "RangeError", Message: "out of range"}, &domain.ErrorContext{Component: "cart"})

			Expect(tr.Flush(ctx)).To(Succeed())
			Expect(tr.Buffered()).To(BeZero())

			report, err := tr.GetStats(ctx, domain.WindowDay)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.TotalErrors).To(BeEquivalentTo(4))
			Expect(report.UniqueErrors).To(BeEquivalentTo(2))
			Expect(report.TopErrors).To(ConsistOf(
				SatisfyAll(HaveField("Type", "TypeError"), HaveField("Occurrences", BeEquivalentTo(3))),
				SatisfyAll(HaveField("Type", "RangeError"), HaveField("Occurrences", BeEquivalentTo(1))),
			))
		})

		It("handles concurrent captures without losing events", func() {
			const goroutines, perGoroutine = 50, 20
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			at := func(g, i int) time.Time {
				return base.Add(time.Duration(g*perGoroutine+i) * time.Second)
			}

			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < perGoroutine; i++ {
						tr.Capture(domain.Failure{Type: "Error", Message: fmt.Sprintf("failure %d", g%5)},
							&domain.ErrorContext{Timestamp: at(g, i)})
					}
				}(g)
			}
			wg.Wait()

			Expect(tr.Buffered()).To(Equal(goroutines * perGoroutine))
			Expect(tr.Flush(ctx)).To(Succeed())

			list, err := groups.List(ctx, domain.GroupFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(5))

			var total int64
			for _, g := range list {
				total += g.Details.Count
				// Message "failure k" comes from goroutines k, k+5, ..., k+45.
				var k int
				_, err := fmt.Sscanf(g.Message, "failure %d", &k)
				Expect(err).NotTo(HaveOccurred())
				Expect(g.Details.FirstSeen).To(BeTemporally("==", at(k, 0)))
				Expect(g.Details.LastSeen).To(BeTemporally("==", at(goroutines-5+k, perGoroutine-1)))
			}
			Expect(total).To(BeEquivalentTo(goroutines * perGoroutine))
		})

		It("keeps the captured context when the caller later changes its maps", func() {
			params := map[string]string{"id": "42"}
			extra := map[string]any{"k": "v"}
			tr.Capture(domain.Failure{Type: "Error", Message: "snapshot"}, &domain.ErrorContext{
				Params:         params,
				AdditionalData: extra,
			})

			params["id"] = "changed"
			extra["k"] = "changed"
			extra["added"] = true

			Expect(tr.Flush(ctx)).To(Succeed())

			list, err := groups.List(ctx, domain.GroupFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
			rc := list[0].Details.RecentContexts[0]
			Expect(rc.Params).To(Equal(map[string]string{"id": "42"}))
			Expect(rc.AdditionalData).To(Equal(map[string]any{"k": "v"}))
		})

		It("redacts secrets and stamps environment defaults", func() {
			tr.Capture(domain.Failure{Type: "Error", Message: "denied"}, &domain.ErrorContext{
				Headers: map[string]string{"Authorization": "Bearer abc", "Accept": "json"},
				Body:    map[string]any{"password": "hunter2", "user": "ann"},
			})
			Expect(tr.Flush(ctx)).To(Succeed())

			list, _ := groups.List(ctx, domain.GroupFilter{})
			Expect(list).To(HaveLen(1))
			rc := list[0].Details.RecentContexts[0]
			Expect(rc.Headers).To(HaveKeyWithValue("Authorization", "[REDACTED]"))
			Expect(rc.Headers).To(HaveKeyWithValue("Accept", "json"))
			Expect(rc.Body).To(HaveKeyWithValue("password", "[REDACTED]"))
			Expect(rc.Environment).To(Equal("test"))
			Expect(rc.Version).To(Equal("1.2.3"))
			Expect(rc.Timestamp.IsZero()).To(BeFalse())
		})

		It("never panics on malformed input", func() {
			circular := map[string]any{"name": "loop"}
			circular["self"] = circular

			var id string
			Expect(func() {
				id = tr.Capture(domain.Failure{}, nil)
			}).NotTo(Panic())
			Expect(id).NotTo(Equal(domain.PlaceholderEventID))

			Expect(func() {
				id = tr.Capture(domain.Failure{Type: "Error", Message: "circular"}, &domain.ErrorContext{Body: circular})
			}).NotTo(Panic())
			Expect(id).NotTo(Equal(domain.PlaceholderEventID))

			Expect(func() {
				tr.CaptureError(nil, &domain.ErrorContext{AdditionalData: map[string]any{"ch": make(chan int)}})
			}).NotTo(Panic())

			Expect(tr.Flush(ctx)).To(Succeed())

			list, err := groups.List(ctx, domain.GroupFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(ContainElement(SatisfyAll(
				HaveField("Message", "circular"),
				HaveField("Details.RecentContexts", ContainElement(HaveField("ErrorContext.Body", UnserializableBody))),
			)))
		})

		It("recovers panics in goroutines", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				defer tr.Recover(&domain.ErrorContext{Component: "worker"})
				panic("worker exploded")
			}()
			Eventually(done).Should(BeClosed())

			Expect(tr.Flush(ctx)).To(Succeed())
			list, _ := groups.List(ctx, domain.GroupFilter{})
			Expect(list).To(HaveLen(1))
			Expect(list[0].Type).To(Equal("panic"))
			Expect(list[0].Message).To(Equal("worker exploded"))
			Expect(list[0].Component).To(Equal("worker"))
		})
	})

	Context("alerting", func() {
		BeforeEach(func() {
			agg := aggregator.New(groups, counters, aggregator.Config{}, discardLogger())
			tr = newTracker(agg, time.Hour)
			tr.Start(ctx)
		})

		It("notifies immediately for payments failures", func() {
			tr.Capture(domain.Failure{Type: "Error", Message: "card declined"}, &domain.ErrorContext{Component: "payments"})
			Expect(tr.Stop(ctx)).To(Succeed())

			msgs := transport.messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Rule).To(Equal(notification.RuleCritical))
		})

		It("notifies once when a failure recurs past the threshold", func() {
			for i := 0; i < 8; i++ {
				tr.Capture(domain.Failure{Type: "Error", Message: "timeout"}, &domain.ErrorContext{Component: "search"})
			}
			Expect(tr.Stop(ctx)).To(Succeed())

			msgs := transport.messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Rule).To(Equal(notification.RuleFrequency))
		})
	})

	Context("flushing", func() {
		var agg *fakeAggregator

		BeforeEach(func() {
			agg = &fakeAggregator{}
			tr = newTracker(agg, time.Hour)
		})

		It("requeues exactly the failed batch ahead of newer events", func() {
			first := tr.Capture(domain.Failure{Message: "one"}, nil)
			second := tr.Capture(domain.Failure{Message: "two"}, nil)

			agg.setFail(errors.New("database unavailable"))
			Expect(tr.Flush(ctx)).To(MatchError(ContainSubstring("database unavailable")))
			Expect(tr.Buffered()).To(Equal(2))

			third := tr.Capture(domain.Failure{Message: "three"}, nil)

			agg.setFail(nil)
			Expect(tr.Flush(ctx)).To(Succeed())
			Expect(agg.eventIDs()).To(Equal([]string{first, second, third}))
			Expect(tr.Buffered()).To(BeZero())
			Expect(tr.Stop(ctx)).To(Succeed())
		})

		It("skips a flush while another is running", func() {
			agg.block = make(chan struct{})
			agg.entered = make(chan struct{}, 1)
			tr.Capture(domain.Failure{Message: "slow"}, nil)

			errCh := make(chan error, 1)
			go func() { errCh <- tr.Flush(ctx) }()
			Eventually(agg.entered).Should(Receive())

			Expect(tr.Flush(ctx)).To(MatchError(ErrFlushInProgress))

			close(agg.block)
			Eventually(errCh).Should(Receive(BeNil()))
			agg.entered = nil
			Expect(tr.Stop(ctx)).To(Succeed())
		})

		It("runs exactly one final flush on stop", func() {
			tr.Start(ctx)
			id := tr.Capture(domain.Failure{Message: "late"}, nil)

			Expect(tr.Stop(ctx)).To(Succeed())
			Expect(agg.eventIDs()).To(Equal([]string{id}))

			Expect(tr.Stop(ctx)).To(Succeed())
			Expect(agg.eventIDs()).To(HaveLen(1))
		})

		It("returns the placeholder id after stop", func() {
			Expect(tr.Stop(ctx)).To(Succeed())
			Expect(tr.Capture(domain.Failure{Message: "too late"}, nil)).To(Equal(domain.PlaceholderEventID))
		})

		It("reports a failing final flush", func() {
			tr.Capture(domain.Failure{Message: "doomed"}, nil)
			agg.setFail(errors.New("database unavailable"))

			Expect(tr.Stop(ctx)).To(HaveOccurred())
		})

		It("flushes on the background interval", func() {
			tr = newTracker(agg, 20*time.Millisecond)
			tr.Start(ctx)
			id := tr.Capture(domain.Failure{Message: "tick"}, nil)

			Eventually(agg.eventIDs).Should(ContainElement(id))
			Expect(tr.Stop(ctx)).To(Succeed())
		})
	})
})

