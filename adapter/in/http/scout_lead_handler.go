package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"scout_server/core/domain"
	"scout_server/core/port/out"
	"scout_server/infra/middleware"
	"scout_server/pkg/response"
)

// LeadHandler exposes the lead review endpoints.
type LeadHandler struct {
	leadRepo out.LeadRepository
}

func NewLeadHandler(leadRepo out.LeadRepository) *LeadHandler {
	return &LeadHandler{leadRepo: leadRepo}
}

func (h *LeadHandler) Register(router fiber.Router) {
	router.Get("/leads", h.ListLeads)
	router.Patch("/leads/:id/status", h.UpdateStatus)
}

// ListLeads returns the caller's leads, newest first, optionally filtered by
// status. GET /api/leads?status=new&limit=50&offset=0
func (h *LeadHandler) ListLeads(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return response.Error(c, 401, "UNAUTHORIZED", "missing user")
	}

	status := domain.LeadStatus(c.Query("status"))
	if status != "" && !domain.ValidLeadStatus(status) {
		return response.BadRequest(c, "unknown lead status: "+string(status))
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	leads, err := h.leadRepo.ListByUser(c.Context(), userID, status, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list leads")
	}

	return response.OKWithMeta(c, leads, &response.Meta{
		Total:   len(leads),
		Limit:   limit,
		Offset:  offset,
		HasMore: len(leads) == limit,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus transitions one lead's review status.
// PATCH /api/leads/:id/status
func (h *LeadHandler) UpdateStatus(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return response.Error(c, 401, "UNAUTHORIZED", "missing user")
	}

	leadID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, "invalid lead id")
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	status := domain.LeadStatus(req.Status)
	if !domain.ValidLeadStatus(status) {
		return response.BadRequest(c, "unknown lead status: "+req.Status)
	}

	if err := h.leadRepo.UpdateStatus(c.Context(), userID, leadID, status); err != nil {
		if errors.Is(err, out.ErrNotFound) {
			return response.NotFound(c, "lead not found")
		}
		return response.InternalError(c, "failed to update lead status")
	}

	return response.OK(c, fiber.Map{"id": leadID, "status": status})
}
