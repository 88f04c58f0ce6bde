// Command javabox-producer opens websocket clients against a running server,
// sends a sample submission from each and prints the feedback with its latency.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/samples"
)

var (
	url       string
	sample    string
	clients   int
	compileMs int64
	executeMs int64
	maxLength int
	wait      time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "javabox-producer",
	Short:         "Send sample submissions to a javabox server over websockets.",
	RunE:          produce,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&url, "url", "ws://localhost:5016/ws", "websocket endpoint")
	rootCmd.Flags().StringVar(&sample, "sample", "hello", "sample to send")
	rootCmd.Flags().IntVar(&clients, "clients", 1, "number of concurrent clients")
	rootCmd.Flags().Int64Var(&compileMs, "compile-timeout-ms", 10000, "compile stage limit")
	rootCmd.Flags().Int64Var(&executeMs, "execution-timeout-ms", 500, "run stage limit")
	rootCmd.Flags().IntVar(&maxLength, "max-length", 2000, "maximum output length")
	rootCmd.Flags().DurationVar(&wait, "wait", time.Minute, "how long to wait for each feedback")
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func produce(cmd *cobra.Command, _ []string) error {
	var (
		mu  sync.Mutex
		enc = json.NewEncoder(os.Stdout)
	)

	g, ctx := errgroup.WithContext(cmd.Context())
	for i := range clients {
		g.Go(func() error {
			clientID := fmt.Sprintf("client%d", i)
			fb, latency, err := send(ctx, clientID)
			if err != nil {
				return fmt.Errorf("%s: %w", clientID, err)
			}

			slog.Info("Feedback received", "clientID", clientID, "passed", fb.Passed, "timedOut", fb.TimedOut, "latency", latency)
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(fb)
		})
	}
	return g.Wait()
}

func send(ctx context.Context, clientID string) (domain.Feedback, time.Duration, error) {
	wire, err := samples.Request(sample, clientID, compileMs, executeMs, maxLength)
	if err != nil {
		return domain.Feedback{}, 0, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return domain.Feedback{}, 0, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	start := time.Now()
	if err := conn.WriteJSON(wire); err != nil {
		return domain.Feedback{}, 0, fmt.Errorf("send: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(wait))
	var fb domain.Feedback
	if err := conn.ReadJSON(&fb); err != nil {
		return domain.Feedback{}, 0, fmt.Errorf("read feedback: %w", err)
	}
	return fb, time.Since(start), nil
}
