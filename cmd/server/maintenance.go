package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dontdude/javabox/internal/config"
	"github.com/dontdude/javabox/internal/platform/web"
	"github.com/dontdude/javabox/internal/sandbox"
)

type maintenanceJob struct {
	name  string
	every time.Duration
	run   func()
}

type reclaimer interface {
	Reclaim(ctx context.Context, minIdle time.Duration) (int, error)
}

// newMaintenance schedules the periodic background jobs of the server.
func newMaintenance(ctx context.Context, cfg *config.Config, pool *sandbox.Pool, limiter *web.RateLimiter, rc reclaimer, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))

	jobs := []maintenanceJob{
		{"pool-sweep", cfg.Pool.SweepInterval, func() { pool.Sweep(ctx) }},
		{"rate-limit-cleanup", time.Minute, func() {
			if n := limiter.Cleanup(); n > 0 {
				logger.Debug("Forgot idle visitors", "count", n)
			}
		}},
	}
	if rc != nil {
		jobs = append(jobs, maintenanceJob{"queue-reclaim", cfg.Queue.ReclaimInterval, func() {
			if _, err := rc.Reclaim(ctx, cfg.Queue.ReclaimMinIdle); err != nil {
				logger.Error("Queue reclaim failed", "error", err)
			}
		}})
	}

	for _, job := range jobs {
		if job.every <= 0 {
			continue
		}
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", job.every), job.run); err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", job.name, err)
		}
		logger.Debug("Scheduled maintenance job", "job", job.name, "every", job.every)
	}
	return c, nil
}
