package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/scribeworks/backend/internal/ragerr"
)

// statusFor maps pipeline errors onto HTTP statuses so handlers stay
// uniform about it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ragerr.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ragerr.ErrConfiguration):
		return fiber.StatusBadRequest
	case errors.Is(err, ragerr.ErrUpstreamUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, ragerr.ErrGenerationFailure):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}
