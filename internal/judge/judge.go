// Package judge assembles the sandbox runtime, pool and pipeline from configuration.
package judge

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/dontdude/javabox/internal/config"
	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/pipeline"
	"github.com/dontdude/javabox/internal/platform/docker"
	"github.com/dontdude/javabox/internal/sandbox"
)

// Judge owns the execution side of the server.
type Judge struct {
	Runtime  *docker.Runtime
	Pool     *sandbox.Pool
	Pipeline *pipeline.Pipeline
}

// New connects to Docker, prepares the image and builds the pool and pipeline.
// The pool is not warmed up.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Collector, tracer trace.Tracer) (*Judge, error) {
	rt, err := docker.NewRuntime(ctx, docker.Config{
		Image:          cfg.Docker.Image,
		WorkDir:        cfg.Docker.WorkDir,
		MemoryMB:       cfg.Docker.MemoryMB,
		PIDsLimit:      cfg.Docker.PIDsLimit,
		NetworkEnabled: cfg.Docker.NetworkEnabled,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := rt.EnsureImage(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	if _, err := rt.PruneSandboxes(ctx); err != nil {
		logger.Warn("Could not prune leftover sandboxes", "error", err)
	}

	libs, err := pipeline.LoadSupportLibs(cfg.Pool.SupportLibDir)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("JUnit support libraries: %w", err)
	}

	runner := sandbox.NewRunner(rt, cfg.Pool.PollInterval, logger)
	pool := sandbox.NewPool(rt, runner, sandbox.Options{
		Capacity: map[domain.Flavor]int{
			domain.Plain:        cfg.Pool.PlainCapacity,
			domain.JUnitCapable: cfg.Pool.JUnitCapacity,
		},
		Seeds: map[domain.Flavor]sandbox.Seed{
			domain.JUnitCapable: pipeline.JUnitSeed(libs),
		},
		SourceDir:   pipeline.SourceDir,
		SeedTimeout: cfg.Pool.SeedTimeout,
		Logger:      logger,
		Metrics:     m,
	})

	return &Judge{
		Runtime: rt,
		Pool:    pool,
		Pipeline: pipeline.New(pool, runner, pipeline.Options{
			JavaFlags: cfg.Java.RunFlags,
			Logger:    logger,
			Metrics:   m,
			Tracer:    tracer,
		}),
	}, nil
}

// Close destroys every idle sandbox and releases the Docker client.
func (j *Judge) Close() error {
	j.Pool.Close()
	return j.Runtime.Close()
}
