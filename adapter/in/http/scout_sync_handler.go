// Package http contains the inbound HTTP handlers.
package http

import (
	"github.com/gofiber/fiber/v2"

	"scout_server/core/service/sync"
	"scout_server/infra/middleware"
	"scout_server/pkg/logger"
	"scout_server/pkg/response"
)

// SyncHandler exposes the sync trigger endpoint.
type SyncHandler struct {
	orchestrator *sync.Orchestrator
	log          *logger.Logger
}

func NewSyncHandler(orchestrator *sync.Orchestrator) *SyncHandler {
	return &SyncHandler{
		orchestrator: orchestrator,
		log:          logger.Default(),
	}
}

func (h *SyncHandler) Register(router fiber.Router) {
	router.Post("/sync", h.RunSync)
}

type runSyncRequest struct {
	Label string `json:"label"`
}

// RunSync triggers one synchronous sync run for the caller's mailbox and
// returns the run summary. POST /api/sync
func (h *SyncHandler) RunSync(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == "" {
		return response.Error(c, 401, "UNAUTHORIZED", "missing user")
	}

	var req runSyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}

	summary, err := h.orchestrator.RunSync(c.Context(), userID, req.Label)
	if err != nil {
		h.log.WithError(err).Error("[SyncHandler.RunSync] run failed: user=%s", userID)
		return response.AppError(c, err)
	}

	return response.OK(c, summary)
}
