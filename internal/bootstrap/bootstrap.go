package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"docflow/internal/chunker"
	"docflow/internal/config"
	"docflow/internal/embedding"
	"docflow/internal/extract"
	server "docflow/internal/http"
	"docflow/internal/jobs"
	"docflow/internal/migrate"
	"docflow/internal/pipeline"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/staging"
	"docflow/internal/store"
	"docflow/internal/vectorstore"
)

// Components holds every backend selected by the config. Both the API and
// the worker role are built from the same Components.
type Components struct {
	Config   *config.Config
	Store    store.JobStore
	Queue    queue.Queue
	Stager   staging.Stager
	Vectors  vectorstore.Store
	Embedder embedding.Embedder
	Pipeline *pipeline.Pipeline
	Redis    *redis.Client
	DB       *sql.DB

	closers []func() error
}

// Build constructs the configured backends. Postgres migrations run first
// when any backend uses the database. Partially built components are
// closed on error.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{Config: cfg}
	if err := c.build(ctx, logger); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, logger *slog.Logger) error {
	cfg := c.Config
	ttl := cfg.Retention.JobTTL()

	if cfg.Store.Driver == "postgres" || cfg.VectorStore.Driver == "postgres" {
		if cfg.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres backends")
		}
		// Run migrations on a short-lived connection
		if err := migrate.Run(ctx, cfg.Database.DSN); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		db, err := sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		c.DB = db
		c.closers = append(c.closers, db.Close)
	}

	needRedis := cfg.Store.Driver == "redis" || cfg.Queue.Driver == "redis"
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		c.Redis = redis.NewClient(opt)
		c.closers = append(c.closers, c.Redis.Close)
	} else if needRedis {
		return errors.New("redis.url is required for redis backends")
	}

	switch cfg.Store.Driver {
	case "memory":
		c.Store = store.NewMemory(ttl, nil)
	case "redis":
		c.Store = store.NewRedis(c.Redis, ttl, nil)
	case "postgres":
		c.Store = store.NewPostgres(c.DB, ttl, nil)
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	switch cfg.Queue.Driver {
	case "memory":
		c.Queue = queue.NewMemory(cfg.Queue.Capacity)
	case "redis":
		c.Queue = queue.NewRedis(c.Redis, cfg.Queue.Name)
	case "rabbitmq":
		q, err := queue.NewRabbitMQ(cfg.Queue.RabbitMQ.URL, cfg.Queue.Name, cfg.Queue.RabbitMQ.Prefetch)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		c.Queue = q
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
	c.closers = append(c.closers, c.Queue.Close)

	switch cfg.Staging.Driver {
	case "local":
		c.Stager = staging.NewLocal(cfg.Staging.LocalDir)
	case "s3":
		s3 := cfg.Staging.S3
		st, err := staging.NewS3(ctx, s3.Endpoint, s3.AccessKey, s3.SecretKey, s3.Bucket, s3.UseSSL)
		if err != nil {
			return fmt.Errorf("connect s3 staging: %w", err)
		}
		c.Stager = st
	default:
		return fmt.Errorf("unknown staging driver %q", cfg.Staging.Driver)
	}

	switch cfg.VectorStore.Driver {
	case "memory":
		c.Vectors = vectorstore.NewMemory()
	case "postgres":
		c.Vectors = vectorstore.NewPostgres(c.DB)
	default:
		return fmt.Errorf("unknown vector store driver %q", cfg.VectorStore.Driver)
	}

	emb, err := embedding.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	c.Embedder = emb

	c.Pipeline = &pipeline.Pipeline{
		Stager:         c.Stager,
		Extractors:     extract.NewRegistry(),
		Splitter:       chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap),
		Embedder:       c.Embedder,
		Vectors:        c.Vectors,
		Retry:          RetryPolicy(cfg),
		EmbedBatchSize: cfg.Worker.EmbedBatchSize,
		MaxFileBytes:   cfg.Upload.MaxFileBytes(),
		Logger:         logger,
	}

	logger.Info("components ready",
		"store", cfg.Store.Driver,
		"queue", cfg.Queue.Driver,
		"staging", cfg.Staging.Driver,
		"vectorstore", cfg.VectorStore.Driver,
		"embedding", c.Embedder.Name(),
	)
	return nil
}

// RetryPolicy converts the retry section into a pipeline policy.
func RetryPolicy(cfg *config.Config) pipeline.RetryPolicy {
	p := pipeline.DefaultRetryPolicy()
	p.MaxAttempts = cfg.Retry.MaxAttempts
	p.BaseDelay = time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond
	p.MaxDelay = time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond
	return p
}

// Server builds the HTTP API over these components.
func (c *Components) Server(logger *slog.Logger) *server.Server {
	return server.NewServer(c.Config, server.Deps{
		Submission: services.NewSubmissionService(c.Config, c.Store, c.Queue, c.Stager, logger),
		Status:     services.NewStatusService(c.Store),
		Search:     services.NewSearchService(c.Embedder, c.Vectors),
		Store:      c.Store,
		Queue:      c.Queue,
		Redis:      c.Redis,
	}, logger)
}

func (c *Components) Runner(logger *slog.Logger) *jobs.Runner {
	return jobs.NewRunner(c.Config, c.Store, c.Queue, c.Pipeline, c.Stager, c.Vectors, logger)
}

func (c *Components) Sweeper(logger *slog.Logger) *jobs.Sweeper {
	return jobs.NewSweeper(c.Config, c.Store, logger)
}

// RecoverQueue hands work left in flight by crashed workers back to the
// queue. Only the redis queue tracks in-flight items, and it only reclaims
// items whose worker lease lapsed. Rabbitmq redelivers unacked messages
// itself and the memory queue does not survive restarts.
func (c *Components) RecoverQueue(ctx context.Context, logger *slog.Logger) {
	rq, ok := c.Queue.(*queue.Redis)
	if !ok {
		return
	}
	n, err := rq.Recover(ctx)
	if err != nil {
		logger.Warn("queue recovery failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("requeued in-flight work", "items", n)
	}
}

// KeepQueueLease holds the worker's redis queue lease until ctx is done and
// keeps reclaiming work from workers that stopped renewing theirs. It
// returns immediately for other queue drivers.
func (c *Components) KeepQueueLease(ctx context.Context, logger *slog.Logger) error {
	rq, ok := c.Queue.(*queue.Redis)
	if !ok {
		return nil
	}
	return rq.KeepAlive(ctx, func(moved int, err error) {
		if err != nil {
			logger.Warn("queue lease maintenance failed", "worker", rq.WorkerID(), "error", err)
			return
		}
		logger.Info("requeued work from lapsed worker", "items", moved)
	})
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
