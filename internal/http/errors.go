package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"docflow/internal/services"
)

func errorJSON(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   msg,
	})
}

// writeServiceError maps service-layer errors onto the HTTP envelope.
// Internal failures are logged with the request id and reported with a
// fixed message.
func writeServiceError(c *fiber.Ctx, err error) error {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return errorJSON(c, fiber.StatusBadRequest, "BAD_REQUEST", ve.Message)
	case errors.Is(err, services.ErrJobNotFound):
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", "Job not found")
	case errors.Is(err, services.ErrCollectionNotFound):
		return errorJSON(c, fiber.StatusNotFound, "NOT_FOUND", "Collection not found. Available collections can be checked via /api/collections.")
	}

	if logger, ok := c.Locals("logger").(*slog.Logger); ok {
		logger.Error("request failed", "request_id", c.Locals("request_id"), "path", c.Path(), "error", err)
	}
	switch {
	case errors.Is(err, services.ErrStoreUnavailable):
		return errorJSON(c, fiber.StatusInternalServerError, "STORE_UNAVAILABLE", "Job store is unavailable, try again later")
	case errors.Is(err, services.ErrQueueUnavailable):
		return errorJSON(c, fiber.StatusInternalServerError, "QUEUE_UNAVAILABLE", "Job queue is unavailable, try again later")
	default:
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
