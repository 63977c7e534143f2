package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/lenshed/durastore/internal/engine"
	"github.com/lenshed/durastore/internal/logger"
	"github.com/lenshed/durastore/internal/middleware"
	"github.com/lenshed/durastore/internal/queue"
)

// OperationsHandler exposes the submit/flush/dead-letter API
type OperationsHandler struct {
	engine *engine.Engine
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(eng *engine.Engine) *OperationsHandler {
	return &OperationsHandler{engine: eng}
}

type submitRequest struct {
	Kind    string          `json:"kind"`
	Table   string          `json:"table"`
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Submit enqueues a mutation intent
func (h *OperationsHandler) Submit(c *fiber.Ctx) error {
	log := middleware.GetLogger(c)

	var body submitRequest
	if err := c.BodyParser(&body); err != nil {
		return middleware.BadRequest(c, "Invalid JSON body")
	}

	kind, err := queue.ParseKind(body.Kind)
	if err != nil {
		return middleware.BadRequest(c, err.Error())
	}

	id, err := h.engine.Submit(c.Context(), kind, body.Table, body.Key, body.Payload)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return middleware.InternalServerError(c, "Engine is shutting down")
		}
		return middleware.BadRequest(c, err.Error())
	}

	log.Debug("Operation accepted", logger.String("operation_id", id))
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"operation_id": id,
	})
}

// Flush triggers a batch flush of the pending set
func (h *OperationsHandler) Flush(c *fiber.Ctx) error {
	flushed, err := h.engine.FlushPending(c.Context())
	if err != nil {
		return middleware.InternalServerError(c, "Flush interrupted")
	}
	return c.JSON(fiber.Map{
		"flushed": flushed,
	})
}

// DeadLetters lists unacknowledged terminal failures
func (h *OperationsHandler) DeadLetters(c *fiber.Ctx) error {
	failures := h.engine.DeadLetters()
	return c.JSON(fiber.Map{
		"dead_letters": failures,
		"count":        len(failures),
	})
}

// AckDeadLetter clears a terminal failure
func (h *OperationsHandler) AckDeadLetter(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.engine.AckDeadLetter(id) {
		return middleware.NotFound(c, "No dead letter with operation id "+id)
	}
	middleware.GetLogger(c).Info("Dead letter acknowledged", logger.String("operation_id", id))
	return c.JSON(fiber.Map{
		"acknowledged": id,
	})
}

// OperationLog lists the audit trail
func (h *OperationsHandler) OperationLog(c *fiber.Ctx) error {
	entries, err := h.engine.OperationLog(c.Context())
	if err != nil {
		return middleware.InternalServerError(c, "Failed to read operation log")
	}
	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}
