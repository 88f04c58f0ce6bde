package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dontdude/javabox/internal/config"
	"github.com/dontdude/javabox/internal/platform/web"
	"github.com/dontdude/javabox/internal/sandbox"
	"github.com/dontdude/javabox/internal/sandbox/sandboxtest"
)

type countingReclaimer struct{ calls int }

func (c *countingReclaimer) Reclaim(context.Context, time.Duration) (int, error) {
	c.calls++
	return 0, nil
}

func TestMaintenanceSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := sandboxtest.New()
	pool := sandbox.NewPool(rt, sandbox.NewRunner(rt, 0, logger), sandbox.Options{Logger: logger})
	limiter := web.NewRateLimiter(1, 1)
	cfg := config.Default()

	c, err := newMaintenance(context.Background(), cfg, pool, limiter, nil, logger)
	if err != nil {
		t.Fatalf("newMaintenance() error = %v", err)
	}
	if got := len(c.Entries()); got != 2 {
		t.Errorf("entries without reclaimer = %d, want 2", got)
	}

	c, err = newMaintenance(context.Background(), cfg, pool, limiter, &countingReclaimer{}, logger)
	if err != nil {
		t.Fatalf("newMaintenance() error = %v", err)
	}
	if got := len(c.Entries()); got != 3 {
		t.Errorf("entries with reclaimer = %d, want 3", got)
	}

	cfg.Pool.SweepInterval = 0
	c, err = newMaintenance(context.Background(), cfg, pool, limiter, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(c.Entries()); got != 1 {
		t.Errorf("entries with sweep disabled = %d, want 1", got)
	}
}
