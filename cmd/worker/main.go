// Command javabox-worker is a smoke check: it runs one sample submission
// straight through a sandbox pipeline, without the queue, and prints the feedback.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dontdude/javabox/internal/config"
	"github.com/dontdude/javabox/internal/judge"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/observability"
	"github.com/dontdude/javabox/internal/samples"
)

var (
	configPath string
	sample     string
	compileMs  int64
	executeMs  int64
)

var rootCmd = &cobra.Command{
	Use:           "javabox-worker",
	Short:         "Run one sample submission in a sandbox and print the feedback.",
	RunE:          runCheck,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().StringVar(&sample, "sample", "hello", "sample to run")
	rootCmd.Flags().Int64Var(&compileMs, "compile-timeout-ms", 10000, "compile stage limit")
	rootCmd.Flags().Int64Var(&executeMs, "execution-timeout-ms", 2000, "run stage limit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	// 1. Load configuration and initialize logger
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
	slog.SetDefault(logger)

	// 2. Build the sample request the way the server would admit it
	wire, err := samples.Request(sample, "smoke-check", compileMs, executeMs, 0)
	if err != nil {
		return err
	}
	req := wire.Request()
	req.ID = fmt.Sprintf("%s:::%d", wire.ClientID, time.Now().UnixMilli())
	if err := req.Validate(); err != nil {
		return err
	}

	// 3. Sandbox stack. Allow for a cold image pull.
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	tracing, err := observability.NewTracerSetup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	j, err := judge.New(ctx, cfg, logger, metrics.New(), tracing.Tracer())
	if err != nil {
		return err
	}
	defer j.Close()

	// 4. Run it straight through the pipeline and print the feedback
	logger.Info("Running smoke check", "sample", sample, "requestID", req.ID)
	start := time.Now()
	fb := j.Pipeline.Run(ctx, req)
	logger.Info("Smoke check finished", "passed", fb.Passed, "timedOut", fb.TimedOut, "elapsed", time.Since(start))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(fb)
}
