package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/lenshed/durastore/internal/engine"
	"github.com/lenshed/durastore/internal/logger"
)

// EventsHandler streams engine events over websocket
type EventsHandler struct {
	engine *engine.Engine
	log    logger.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(eng *engine.Engine, log logger.Logger) *EventsHandler {
	return &EventsHandler{engine: eng, log: log}
}

// Upgrade gates the route to websocket requests
func (h *EventsHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Stream pushes engine events to the client until it disconnects.
func (h *EventsHandler) Stream() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		sub := h.engine.Subscribe()
		defer h.engine.Unsubscribe(sub.ID)

		h.log.Debug("Event stream opened", logger.String("subscriber_id", sub.ID))

		// Reader goroutine notices client disconnects.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				if err := conn.WriteJSON(evt); err != nil {
					h.log.Debug("Event stream write failed",
						logger.String("subscriber_id", sub.ID),
						logger.Error(err))
					return
				}
			case <-closed:
				return
			}
		}
	})
}
