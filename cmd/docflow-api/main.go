package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docflow/internal/bootstrap"
	"docflow/internal/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	role := flag.String("role", "all", "process role: api|worker|all")
	flag.Parse()

	if *role != "api" && *role != "worker" && *role != "all" {
		log.Fatalf("invalid role: %s (expected api|worker|all)", *role)
	}

	cfg := config.Load(*configPath)
	logger := newLogger(cfg.Logging)

	if err := run(cfg, *role, logger); err != nil {
		logger.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, role string, logger *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := bootstrap.Build(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer comps.Close()

	g, ctx := errgroup.WithContext(rootCtx)

	if role == "worker" || role == "all" {
		comps.RecoverQueue(ctx, logger)
		runner := comps.Runner(logger)
		sweeper := comps.Sweeper(logger)
		g.Go(func() error { return runner.Start(ctx) })
		g.Go(func() error { return sweeper.Start(ctx) })
		g.Go(func() error { return comps.KeepQueueLease(ctx, logger) })
		logger.Info("worker started", "max_concurrent_jobs", cfg.Worker.MaxConcurrentJobs)
	}

	if role == "api" || role == "all" {
		s := comps.Server(logger)
		g.Go(func() error { return s.Listen() })
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
