package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"docflow/internal/config"
	"docflow/internal/metrics"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/store"
)

// Deps are the services and backends the API needs. Redis is optional and
// only used for rate limiting and health reporting.
type Deps struct {
	Submission services.SubmissionService
	Status     services.StatusService
	Search     services.SearchService
	Store      store.JobStore
	Queue      queue.Queue
	Redis      *redis.Client
}

type Server struct {
	app    *fiber.App
	config *config.Config
	logger *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.Upload.RequestBodyLimit(),
		DisableStartupMessage: true,
		ErrorHandler:          newErrorHandler(cfg),
	})

	// Inject config and services into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("submission", deps.Submission)
		c.Locals("status", deps.Status)
		c.Locals("search", deps.Search)
		return c.Next()
	})

	app.Use(requestLogMiddleware(logger))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		h := checkHealth(ctx, cfg, deps)

		status := "ok"
		if h.Store != "connected" || h.Queue != "connected" || h.Redis == "error" {
			status = "error"
		}
		return c.JSON(fiber.Map{
			"status": status,
			"store":  h.Store,
			"queue":  h.Queue,
			"redis":  h.Redis,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	// Public service info, registered ahead of the authenticated group.
	app.Get("/api/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()
		return c.JSON(checkHealth(ctx, cfg, deps))
	})

	api := app.Group("/api", authMiddleware(cfg), rateLimitMiddleware(cfg, deps.Redis))
	registerAPIRoutes(api)

	return &Server{
		app:    app,
		config: cfg,
		logger: logger,
	}
}

func registerAPIRoutes(group fiber.Router) {
	group.Post("/start-embedding", startEmbeddingHandler)
	group.Post("/start-embedding/batch", startBatchEmbeddingHandler)
	group.Get("/job-status/:job_id", jobStatusHandler)
	group.Get("/search", searchHandler)
	group.Get("/collections", collectionsHandler)
}

// App exposes the underlying Fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	if s.logger != nil {
		s.logger.Info("api listening", "addr", addr)
	}
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func checkHealth(ctx context.Context, cfg *config.Config, deps Deps) HealthResponse {
	h := HealthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Store:            "connected",
		Queue:            "connected",
		Redis:            "disabled",
		AllowedFileTypes: cfg.Upload.AllowedTypes,
		MaxFileSizeMB:    cfg.Upload.MaxFileSizeMB,
	}
	if deps.Store != nil {
		if err := deps.Store.Ping(ctx); err != nil {
			h.Store = "disconnected: " + err.Error()
			h.Status = "degraded"
		}
	}
	if deps.Queue != nil {
		if err := deps.Queue.Ping(ctx); err != nil {
			h.Queue = "disconnected: " + err.Error()
			h.Status = "degraded"
		}
	}
	if deps.Redis != nil {
		h.Redis = "ok"
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			h.Redis = "error"
		}
	}
	return h
}

// newErrorHandler renders errors that escape handlers in the ErrorResponse
// envelope. An oversized body is reported as the batch size limit.
func newErrorHandler(cfg *config.Config) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) && fe.Code == fiber.StatusRequestEntityTooLarge {
			return errorJSON(c, fiber.StatusBadRequest, "BAD_REQUEST",
				fmt.Sprintf("Total batch size exceeds maximum of %dMB", cfg.Upload.MaxBatchSizeMB))
		}
		return errorHandler(c, err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	label := "INTERNAL_ERROR"
	switch code {
	case fiber.StatusBadRequest:
		label = "BAD_REQUEST"
	case fiber.StatusNotFound:
		label = "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		label = "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		label = "PAYLOAD_TOO_LARGE"
	}
	return c.Status(code).JSON(ErrorResponse{
		Success: false,
		Code:    label,
		Error:   err.Error(),
	})
}
