package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"docflow/internal/services"
)

// searchHandler implements GET /api/search?query=&collection_name=&top_k=.
func searchHandler(c *fiber.Ctx) error {
	svc, ok := c.Locals("search").(services.SearchService)
	if !ok || svc == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "search service not configured")
	}

	topK := services.DefaultTopK
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "BAD_REQUEST", "top_k must be an integer")
		}
		topK = n
	}

	res, err := svc.Search(c.Context(), &services.SearchRequest{
		Query:          c.Query("query"),
		CollectionName: c.Query("collection_name"),
		TopK:           topK,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"query":           res.Query,
		"collection_name": res.CollectionName,
		"total_results":   res.TotalResults,
		"documents":       res.Documents,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// collectionsHandler implements GET /api/collections.
func collectionsHandler(c *fiber.Ctx) error {
	svc, ok := c.Locals("search").(services.SearchService)
	if !ok || svc == nil {
		return errorJSON(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "search service not configured")
	}

	cols, err := svc.Collections(c.Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	out := CollectionsResponse{
		Collections:      make([]CollectionInfo, len(cols)),
		TotalCollections: len(cols),
	}
	for i, col := range cols {
		out.Collections[i] = CollectionInfo{Name: col.Name, DocumentCount: col.Chunks}
	}
	return c.JSON(out)
}
