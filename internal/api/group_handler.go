package api

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"faultline/internal/domain"
	"faultline/internal/store"
)

// GroupHandler handles HTTP requests for error group triage.
type GroupHandler struct {
	repo   store.GroupRepository
	logger *slog.Logger
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(repo store.GroupRepository, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{
		repo:   repo,
		logger: logger,
	}
}

// UpdateStatusRequest is the body of PATCH /v1/groups/:id.
type UpdateStatusRequest struct {
	Status domain.GroupStatus `json:"status"`
}

// List handles GET /v1/groups
// Supports status, severity, since (RFC 3339), limit and offset.
func (h *GroupHandler) List(c *fiber.Ctx) error {
	filter := domain.GroupFilter{
		Status:   domain.GroupStatus(c.Query("status")),
		Severity: domain.Severity(c.Query("severity")),
	}

	if filter.Status != "" && !filter.Status.IsValid() {
		return ValidationError(c, domain.ErrInvalidStatus.Error())
	}
	if filter.Severity != "" && !filter.Severity.IsValid() {
		return ValidationError(c, "severity must be 'info', 'warning', 'error', or 'critical'")
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return ValidationError(c, "since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}

	// Parse pagination
	if limit := c.Query("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	groups, err := h.repo.List(c.UserContext(), filter)
	if err != nil {
		h.logger.Error("failed to list error groups", "error", err)
		return InternalError(c, "failed to list error groups")
	}
	if groups == nil {
		groups = []*domain.ErrorGroup{}
	}

	return Success(c, groups)
}

// GetByID handles GET /v1/groups/:id
func (h *GroupHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")

	group, err := h.repo.GetByID(c.UserContext(), id)
	if err != nil {
		if !isDomainError(err) {
			h.logger.Error("failed to get error group", "groupID", id, "error", err)
		}
		return DomainError(c, err)
	}

	return Success(c, group)
}

// UpdateStatus handles PATCH /v1/groups/:id
// Moves a group through new, acknowledged and resolved.
func (h *GroupHandler) UpdateStatus(c *fiber.Ctx) error {
	id := c.Params("id")

	var req UpdateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequest(c, "invalid request body")
	}
	if !req.Status.IsValid() {
		return ValidationError(c, domain.ErrInvalidStatus.Error())
	}

	group, err := h.repo.Update(c.UserContext(), id, domain.GroupPatch{Status: req.Status})
	if err != nil {
		if !isDomainError(err) {
			h.logger.Error("failed to update error group", "groupID", id, "error", err)
		}
		return DomainError(c, err)
	}

	h.logger.Info("error group status changed", "groupID", id, "status", req.Status)
	return Success(c, group)
}

// Delete handles DELETE /v1/groups/:id
func (h *GroupHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.repo.Delete(c.UserContext(), id); err != nil {
		if !isDomainError(err) {
			h.logger.Error("failed to delete error group", "groupID", id, "error", err)
		}
		return DomainError(c, err)
	}

	h.logger.Info("error group deleted", "groupID", id)
	return NoContent(c)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrGroupNotFound) || errors.Is(err, domain.ErrInvalidStatus)
}
