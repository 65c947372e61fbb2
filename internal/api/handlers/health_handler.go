package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// ComponentCheck reports one dependency's availability.
type ComponentCheck func() bool

type HealthHandler struct {
	checks map[string]ComponentCheck
}

func NewHealthHandler(checks map[string]ComponentCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// HandleReady reports per-component availability. The service stays
// ready while degraded (for example, vector store down but lexical
// search working); only a failed core store makes it not ready.
func (h *HealthHandler) HandleReady(c *fiber.Ctx) error {
	components := fiber.Map{}
	ready := true

	for name, check := range h.checks {
		ok := check()
		components[name] = ok
		if name == "storage" && !ok {
			ready = false
		}
	}

	status := "ready"
	code := fiber.StatusOK
	if !ready {
		status = "not_ready"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"components": components,
	})
}
