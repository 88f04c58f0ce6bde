// Command javabox-server runs the Java judge: it accepts submissions over
// websockets and HTTP and executes them in pooled Docker sandboxes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dontdude/javabox/internal/admission"
	"github.com/dontdude/javabox/internal/config"
	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/judge"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/observability"
	"github.com/dontdude/javabox/internal/platform/queue"
	"github.com/dontdude/javabox/internal/platform/web"
	"github.com/dontdude/javabox/internal/router"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	addr       string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "javabox-server",
	Short:         "Compile and run untrusted Java submissions in Docker sandboxes.",
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	// 1. Load configuration (.env, YAML, environment), flags win
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	// 2. Initialize logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Metrics and tracing (tracing is a no-op without an endpoint)
	m := metrics.New()

	tracing, err := observability.NewTracerSetup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(sctx)
	}()

	// 4. Docker runtime, sandbox pool and pipeline
	j, err := judge.New(ctx, cfg, logger, m, tracing.Tracer())
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Error("Failed to close Docker client", "error", err)
		}
	}()

	// 5. Warm the idle pools so the first requests skip provisioning
	if cfg.Pool.Warmup {
		if err := j.Pool.Warmup(ctx); err != nil {
			logger.Warn("Pool warm-up incomplete, sandboxes will be provisioned on demand", "error", err)
		}
	}

	// 6. Job store (Redis Streams or in-memory) and admission queue
	store, reclaimer, closeStore, err := openStore(ctx, cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	q := admission.New(store, j.Pipeline, router.New(logger), admission.Options{
		Concurrency:    cfg.Queue.DefaultConcurrency,
		MaxConcurrency: cfg.Queue.MaxConcurrency,
		Logger:         logger,
		Metrics:        m,
	})

	// 7. Rate limiter + HTTP/websocket transport
	limiter := web.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.NewServer(q, limiter, m, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 8. Maintenance jobs, then the workers
	scheduler, err := newMaintenance(ctx, cfg, j.Pool, limiter, reclaimer, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	q.Start(ctx)

	// 9. Serve until a signal arrives, then shut down in reverse order
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("API server starting", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	err = g.Wait()

	<-scheduler.Stop().Done()
	// Running jobs finish; queued ones are answered with an internal error.
	q.Stop()
	return err
}

// openStore returns the configured job store. reclaimer is nil for the memory backend.
func openStore(ctx context.Context, cfg config.QueueConfig, logger *slog.Logger) (domain.JobStore, reclaimer, func(), error) {
	if cfg.Backend == "memory" {
		s := queue.NewMemoryStore()
		return s, nil, func() { _ = s.Close() }, nil
	}

	s, err := queue.NewRedisStore(ctx, queue.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.Stream,
		Group:    cfg.Group,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("Redis job store ready", "addr", cfg.RedisAddr, "stream", cfg.Stream)
	return s, s, func() { _ = s.Close() }, nil
}
