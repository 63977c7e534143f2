package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lenshed/durastore/internal/engine"
	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/middleware"
	"github.com/lenshed/durastore/internal/snapshot"
)

// SnapshotsHandler exposes snapshot capture, listing, and restore
type SnapshotsHandler struct {
	engine *engine.Engine
}

// NewSnapshotsHandler creates a new snapshots handler
func NewSnapshotsHandler(eng *engine.Engine) *SnapshotsHandler {
	return &SnapshotsHandler{engine: eng}
}

// Create captures a manual snapshot
func (h *SnapshotsHandler) Create(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)

	id, err := h.engine.CreateSnapshot(c.Context(), snapshot.KindManual)
	if err != nil {
		log.Error("Failed to create snapshot", logger.Error(err))
		return middleware.InternalServerError(c, "Failed to create snapshot")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"snapshot_id": id,
	})
}

// List returns snapshot metadata, newest first
func (h *SnapshotsHandler) List(c *fiber.Ctx) error {
	infos, err := h.engine.ListSnapshots(c.Context())
	if err != nil {
		return middleware.InternalServerError(c, "Failed to list snapshots")
	}
	return c.JSON(fiber.Map{
		"snapshots": infos,
		"count":     len(infos),
	})
}

type restoreRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

// Restore replaces all managed tables from a snapshot. With no snapshot_id
// the most recent snapshot is used.
func (h *SnapshotsHandler) Restore(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)

	var body restoreRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return middleware.BadRequest(c, "Invalid JSON body")
		}
	}

	if err := h.engine.Restore(c.Context(), body.SnapshotID); err != nil {
		if snapshot.IsNotFound(err) {
			return middleware.NotFound(c, err.Error())
		}
		log.Error("Restore failed",
			logger.String("snapshot_id", body.SnapshotID),
			logger.Error(err))
		return middleware.InternalServerError(c, "Restore aborted, store left unchanged")
	}

	return c.JSON(fiber.Map{
		"restored": true,
	})
}
