package http

import (
	"github.com/gofiber/fiber/v2"

	"docflow/internal/services"
)

// jobStatusHandler implements GET /api/job-status/:job_id.
func jobStatusHandler(c *fiber.Ctx) error {
	svc, ok := c.Locals("status").(services.StatusService)
	if !ok || svc == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "status service not configured")
	}

	id := c.Params("job_id")
	c.Locals("job_id", id)

	view, err := svc.Get(c.Context(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(view)
}
