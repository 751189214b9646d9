package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"faultline/internal/domain"
	"faultline/internal/tracker"
)

// Tracker is the part of the tracker the operational endpoints need.
type Tracker interface {
	GetStats(ctx context.Context, window domain.StatsWindow) (*domain.StatsReport, error)
	Flush(ctx context.Context) error
	Buffered() int
}

// StatsHandler serves stats and operator flushes.
type StatsHandler struct {
	tracker Tracker
	logger  *slog.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(tracker Tracker, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		tracker: tracker,
		logger:  logger,
	}
}

// GetStats handles GET /v1/stats?window=hour|day|week
// The window defaults to day.
func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	window := domain.StatsWindow(c.Query("window", string(domain.WindowDay)))

	report, err := h.tracker.GetStats(c.UserContext(), window)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidWindow) {
			return ValidationError(c, err.Error())
		}
		h.logger.Error("failed to compute stats", "window", window, "error", err)
		return InternalError(c, "failed to compute stats")
	}

	return Success(c, report)
}

// Flush handles POST /v1/flush
// Runs a flush now instead of waiting for the next tick.
func (h *StatsHandler) Flush(c *fiber.Ctx) error {
	buffered := h.tracker.Buffered()

	if err := h.tracker.Flush(c.UserContext()); err != nil {
		if errors.Is(err, tracker.ErrFlushInProgress) {
			return Conflict(c, err.Error())
		}
		h.logger.Error("operator flush failed", "error", err)
		return InternalError(c, "flush failed, events requeued")
	}

	return Success(c, map[string]int{
		"flushed":  buffered,
		"buffered": h.tracker.Buffered(),
	})
}
