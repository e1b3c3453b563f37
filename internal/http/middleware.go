package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"docflow/internal/config"
	"docflow/internal/metrics"
)

// requestLogMiddleware assigns a request id and records latency, metrics
// and a structured log line for every request.
func requestLogMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			attrs := []any{
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			}
			if jobID := c.Locals("job_id"); jobID != nil {
				attrs = append(attrs, "job_id", jobID)
			}
			logger.Info("request", attrs...)
		}

		return err
	}
}

// keyID is a short, non-reversible identifier for an API key, safe to use
// in Redis keys and logs.
func keyID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// authMiddleware validates the Authorization: Bearer <key> header against
// auth.apiKeys and attaches the key id to the context as "apiKey".
func authMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Auth.Enabled {
			return c.Next()
		}

		rawAuth := c.Get("Authorization")
		if rawAuth == "" || !strings.HasPrefix(rawAuth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Success: false,
				Code:    "UNAUTHENTICATED",
				Error:   "Missing Authorization Bearer token",
			})
		}

		token := strings.TrimSpace(strings.TrimPrefix(rawAuth, "Bearer "))
		for _, key := range cfg.Auth.APIKeys {
			if key != "" && subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
				c.Locals("apiKey", keyID(token))
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAUTHENTICATED",
			Error:   "Invalid API key",
		})
	}
}

// rateLimitMiddleware enforces a per-minute fixed-window rate limit using
// Redis, per API key when auth is enabled and per client IP otherwise.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := cfg.RateLimit.DefaultPerMinute
		if rdb == nil || limit <= 0 {
			return c.Next()
		}

		subject := "ip:" + c.IP()
		if id, ok := c.Locals("apiKey").(string); ok && id != "" {
			subject = "key:" + id
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("docflow:rl:%s:%s", subject, window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("rate limit increment failed: %v", err),
			})
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}
