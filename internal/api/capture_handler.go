package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"faultline/internal/domain"
	"faultline/internal/ingest"
)

// CaptureHandler handles remote capture requests.
type CaptureHandler struct {
	tracker ingest.Capturer
	logger  *slog.Logger
}

// NewCaptureHandler creates a new capture handler.
func NewCaptureHandler(tracker ingest.Capturer, logger *slog.Logger) *CaptureHandler {
	return &CaptureHandler{
		tracker: tracker,
		logger:  logger,
	}
}

// Capture handles POST /v1/errors
// Records the failure and returns 202 with its event id. Aggregation happens
// on the next flush.
func (h *CaptureHandler) Capture(c *fiber.Ctx) error {
	var req ingest.CaptureRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse capture body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if req.Type == "" && req.Message == "" {
		return ValidationError(c, "type or message is required")
	}

	id := h.tracker.Capture(req.Failure(), req.Context)
	if id == domain.PlaceholderEventID {
		return Unavailable(c, "capture is not accepting events")
	}

	return Accepted(c, map[string]string{
		"status":   "accepted",
		"event_id": id,
	})
}
