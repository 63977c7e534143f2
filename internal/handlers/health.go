package handlers

import (
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lenshed/durastore/internal/engine"
	"github.com/lenshed/durastore/internal/health"
)

// StatusResponse is the full health report for the control plane.
type StatusResponse struct {
	Engine    health.Status `json:"engine"`
	Version   string        `json:"version"`
	Uptime    string        `json:"uptime"`
	Timestamp time.Time     `json:"timestamp"`
	System    SystemHealth  `json:"system"`
}

// SystemHealth reports process-level figures.
type SystemHealth struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_bytes"`
	NumGC       uint32 `json:"num_gc"`
}

// HealthHandler handles health check operations
type HealthHandler struct {
	engine    *engine.Engine
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(eng *engine.Engine, version string) *HealthHandler {
	return &HealthHandler{
		engine:    eng,
		startTime: time.Now(),
		version:   version,
	}
}

// Status returns the engine health report. An unhealthy queue is a
// backpressure signal for callers, not an error: the response stays 200.
func (h *HealthHandler) Status(c *fiber.Ctx) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(StatusResponse{
		Engine:    h.engine.Status(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		System: SystemHealth{
			Goroutines:  runtime.NumGoroutine(),
			MemoryAlloc: mem.Alloc,
			NumGC:       mem.NumGC,
		},
	})
}

// Live is a liveness probe
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
