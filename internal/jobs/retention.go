package jobs

import (
	"context"
	"log/slog"
	"time"

	"docflow/internal/config"
	"docflow/internal/metrics"
	"docflow/internal/store"
)

// RetentionStats captures the number of records deleted by TTL cleanup.
type RetentionStats struct {
	JobsDeleted int64 `json:"jobsDeleted"`
}

// CleanupExpiredJobs deletes job records older than ttl so the store does
// not grow without bound. Reads already hide these records; this only
// reclaims the space.
func CleanupExpiredJobs(ctx context.Context, st store.JobStore, ttl time.Duration, now time.Time) (RetentionStats, error) {
	var stats RetentionStats
	if ttl <= 0 {
		return stats, nil
	}
	n, err := st.DeleteExpired(ctx, now.Add(-ttl))
	if err != nil {
		return stats, err
	}
	stats.JobsDeleted = n
	metrics.RecordRetentionJobs(n)
	return stats, nil
}

// Sweeper runs CleanupExpiredJobs on a fixed interval.
type Sweeper struct {
	store    store.JobStore
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(cfg *config.Config, st store.JobStore, logger *slog.Logger) *Sweeper {
	interval := time.Duration(cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    st,
		ttl:      cfg.Retention.JobTTL(),
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	stats, err := CleanupExpiredJobs(ctx, s.store, s.ttl, s.now())
	if s.logger == nil {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("retention sweep failed", "error", err)
		}
		return
	}
	if stats.JobsDeleted > 0 {
		s.logger.Info("retention sweep", "jobs_deleted", stats.JobsDeleted)
	}
}
