package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"faultline/internal/aggregator"
	"faultline/internal/alerting"
	"faultline/internal/api"
	"faultline/internal/config"
	"faultline/internal/domain"
	"faultline/internal/notification"
	"faultline/internal/stats"
	memorystor "faultline/internal/store/memory"
	"faultline/internal/tracker"
)

// envelope mirrors api.APIResponse with the payload left raw.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *api.APIError   `json:"error"`
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

func (t *recordingTransport) rules() []notification.Rule {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]notification.Rule, 0, len(t.sent))
	for _, m := range t.sent {
		out = append(out, m.Rule)
	}
	return out
}

// testStack is the in-memory service as cmd/faultline wires it.
type testStack struct {
	server    *api.Server
	tracker   *tracker.Tracker
	transport *recordingTransport
}

func newTestStack() *testStack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	groups := memorystor.NewGroupRepository()
	counters := memorystor.NewCounterStore()
	transport := &recordingTransport{}

	dispatcher := alerting.NewDispatcher(counters, transport, []domain.NotificationChannel{
		{Name: "ops", Type: domain.ChannelTypeLog, Enabled: true, Threshold: 3, Cooldown: time.Minute},
	}, alerting.Config{SendTimeout: time.Second}, logger)

	agg := aggregator.New(groups, counters, aggregator.Config{}, logger)
	reporter := stats.New(groups, counters, cfg.Tracker.TopErrorsLimit, logger)
	tr := tracker.New(agg, dispatcher, reporter, tracker.Config{
		FlushInterval: time.Hour,
		Environment:   "integration",
	}, logger)

	server := api.NewServer(api.ServerDeps{
		Config:         &cfg.Server,
		Logger:         logger,
		CaptureHandler: api.NewCaptureHandler(tr, logger),
		StatsHandler:   api.NewStatsHandler(tr, logger),
		GroupHandler:   api.NewGroupHandler(groups, logger),
		Capturer:       tr,
		HealthChecks: map[string]api.HealthCheck{
			"memory": func(context.Context) error { return nil },
		},
	})

	return &testStack{server: server, tracker: tr, transport: transport}
}

// doRequest performs an in-process request against the app.
func (s *testStack) doRequest(method, path string, body any) *http.Response {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		bodyReader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.App().Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

// parseResponse decodes the envelope and, when target is set, its data.
func parseResponse(resp *http.Response, target any) envelope {
	defer resp.Body.Close()
	var env envelope
	Expect(json.NewDecoder(resp.Body).Decode(&env)).To(Succeed())
	if target != nil {
		Expect(json.Unmarshal(env.Data, target)).To(Succeed())
	}
	return env
}

func capture(s *testStack, typ, message, component string) string {
	resp := s.doRequest(http.MethodPost, "/v1/errors", map[string]any{
		"type":    typ,
		"message": message,
		"stack":   "at handler (/srv/app/routes/" + component + ".js:12:7)",
		"context": map[string]any{
			"component": component,
			"path":      "/" + component,
			"method":    "POST",
			"headers":   map[string]string{"Authorization": "Bearer token"},
		},
	})
	Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

	var data map[string]string
	parseResponse(resp, &data)
	Expect(data["event_id"]).NotTo(BeEmpty())
	return data["event_id"]
}

var _ = Describe("HTTP Integration Tests", Ordered, func() {
	var stack *testStack

	BeforeAll(func() {
		stack = newTestStack()
		stack.tracker.Start(context.Background())
	})

	AfterAll(func() {
		Expect(stack.tracker.Stop(context.Background())).To(Succeed())
	})

	Describe("Health Check", func() {
		It("should return healthy status", func() {
			resp := stack.doRequest(http.MethodGet, "/healthz", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var data map[string]any
			parseResponse(resp, &data)
			Expect(data["status"]).To(Equal("healthy"))
		})
	})

	Describe("Capture API", func() {
		It("should reject an invalid body", func() {
			req := httptest.NewRequest(http.MethodPost, "/v1/errors", strings.NewReader("{oops"))
			req.Header.Set("Content-Type", "application/json")
			resp, err := stack.server.App().Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a capture with neither type nor message", func() {
			resp := stack.doRequest(http.MethodPost, "/v1/errors", map[string]any{"stack": "x"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			env := parseResponse(resp, nil)
			Expect(env.Error.Code).To(Equal(api.ErrCodeValidationFailed))
		})

		It("should accept captures and aggregate them on flush", func() {
			for i := 0; i < 3; i++ {
				capture(stack, "TypeError", "cart is undefined", "checkout")
			}
			capture(stack, "RangeError", "quantity out of range", "inventory")

			resp := stack.doRequest(http.MethodPost, "/v1/flush", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var flushed map[string]int
			parseResponse(resp, &flushed)
			Expect(flushed["flushed"]).To(Equal(4))
			Expect(flushed["buffered"]).To(BeZero())
		})
	})

	Describe("Stats API", func() {
		It("should report the day's totals", func() {
			resp := stack.doRequest(http.MethodGet, "/v1/stats?window=day", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var report domain.StatsReport
			parseResponse(resp, &report)
			Expect(report.TotalErrors).To(BeEquivalentTo(4))
			Expect(report.UniqueErrors).To(BeEquivalentTo(2))
			Expect(report.ErrorsByComponent).To(HaveKeyWithValue("checkout", BeEquivalentTo(3)))
			Expect(report.ErrorsByType).To(HaveKeyWithValue("RangeError", BeEquivalentTo(1)))
			Expect(report.TopErrors).To(ConsistOf(
				SatisfyAll(HaveField("Type", "TypeError"), HaveField("Occurrences", BeEquivalentTo(3))),
				SatisfyAll(HaveField("Type", "RangeError"), HaveField("Occurrences", BeEquivalentTo(1))),
			))
			Expect(report.RecentErrors).To(HaveLen(4))
		})

		It("should default to the day window", func() {
			resp := stack.doRequest(http.MethodGet, "/v1/stats", nil)
			var report domain.StatsReport
			parseResponse(resp, &report)
			Expect(report.Window).To(Equal(domain.WindowDay))
		})

		It("should reject an unknown window", func() {
			resp := stack.doRequest(http.MethodGet, "/v1/stats?window=month", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Groups API", func() {
		var groupID string

		It("should list groups newest first", func() {
			resp := stack.doRequest(http.MethodGet, "/v1/groups", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var groups []domain.ErrorGroup
			parseResponse(resp, &groups)
			Expect(groups).To(HaveLen(2))

			for _, g := range groups {
				if g.Type == "TypeError" {
					groupID = g.ID
					Expect(g.Details.Count).To(BeEquivalentTo(3))
					Expect(g.Status).To(Equal(domain.GroupStatusNew))
					Expect(g.Details.RecentContexts[0].Headers).To(HaveKeyWithValue("Authorization", "[REDACTED]"))
					Expect(g.Details.RecentContexts[0].Environment).To(Equal("integration"))
				}
			}
			Expect(groupID).NotTo(BeEmpty())
		})

		It("should filter by status", func() {
			resp := stack.doRequest(http.MethodGet, "/v1/groups?status=resolved", nil)
			var groups []domain.ErrorGroup
			parseResponse(resp, &groups)
			Expect(groups).To(BeEmpty())

			resp = stack.doRequest(http.MethodGet, "/v1/groups?status=bogus", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should resolve a group", func() {
			resp := stack.doRequest(http.MethodPatch, "/v1/groups/"+groupID, map[string]string{"status": "resolved"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var group domain.ErrorGroup
			parseResponse(resp, &group)
			Expect(group.Status).To(Equal(domain.GroupStatusResolved))
		})

		It("should reject an invalid status", func() {
			resp := stack.doRequest(http.MethodPatch, "/v1/groups/"+groupID, map[string]string{"status": "ignored"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reopen a resolved group when the error recurs", func() {
			capture(stack, "TypeError", "cart is undefined", "checkout")
			Expect(stack.doRequest(http.MethodPost, "/v1/flush", nil).StatusCode).To(Equal(http.StatusOK))

			resp := stack.doRequest(http.MethodGet, "/v1/groups/"+groupID, nil)
			var group domain.ErrorGroup
			parseResponse(resp, &group)
			Expect(group.Status).To(Equal(domain.GroupStatusNew))
			Expect(group.Details.Count).To(BeEquivalentTo(4))
		})

		It("should delete a group", func() {
			resp := stack.doRequest(http.MethodDelete, "/v1/groups/"+groupID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = stack.doRequest(http.MethodGet, "/v1/groups/"+groupID, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Alerts", func() {
		It("should alert on recurring errors past the channel threshold", func() {
			Eventually(stack.transport.rules).Should(ContainElement(notification.RuleFrequency))
		})

		It("should alert immediately on payments failures", func() {
			capture(stack, "Error", "card declined", "payments")
			Eventually(stack.transport.rules).Should(ContainElement(notification.RuleCritical))
		})
	})

	Describe("Metrics", func() {
		It("should expose capture metrics", func() {
			resp := stack.doRequest(http.MethodGet, "/metrics", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(string(body)).To(ContainSubstring("faultline_events_captured_total"))
		})
	})
})
