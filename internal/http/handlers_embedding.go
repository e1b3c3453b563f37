package http

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"docflow/internal/services"
)

// startEmbeddingHandler implements POST /api/start-embedding: one file in
// the "file" field.
func startEmbeddingHandler(c *fiber.Ctx) error {
	return submitUploads(c, "file", false)
}

// startBatchEmbeddingHandler implements POST /api/start-embedding/batch:
// several files in the "files" field.
func startBatchEmbeddingHandler(c *fiber.Ctx) error {
	return submitUploads(c, "files", true)
}

func submitUploads(c *fiber.Ctx, field string, batch bool) error {
	svc, ok := c.Locals("submission").(services.SubmissionService)
	if !ok || svc == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "submission service not configured")
	}

	var headers []*multipart.FileHeader
	collection := ""
	if form, err := c.MultipartForm(); err == nil {
		headers = form.File[field]
		if vals := form.Value["collection_name"]; len(vals) > 0 {
			collection = vals[0]
		}
	}

	req := &services.SubmitRequest{
		Files:          make([]services.FileBlob, len(headers)),
		CollectionName: collection,
		Batch:          batch,
	}
	for i, fh := range headers {
		fh := fh
		req.Files[i] = services.FileBlob{
			Name: fh.Filename,
			Size: fh.Size,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		}
	}

	res, err := svc.Submit(c.Context(), req)
	if err != nil {
		return writeServiceError(c, err)
	}
	c.Locals("job_id", res.JobID)

	resp := EmbeddingJobResponse{
		JobID:          res.JobID,
		Status:         string(res.Status),
		CollectionName: res.CollectionName,
		Message:        "Job created successfully. Use job_id to check status.",
	}
	if batch {
		resp.TotalFiles = res.TotalFiles
		resp.Message = fmt.Sprintf("Batch job created with %d files. Use job_id to check status.", res.TotalFiles)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}
