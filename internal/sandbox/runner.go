package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dontdude/javabox/internal/domain"
)

// DefaultPollInterval is the pause between two inspections of a running command.
const DefaultPollInterval = 250 * time.Millisecond

// DefaultDrainGrace bounds how long output may keep arriving after a command exited.
const DefaultDrainGrace = time.Second

var (
	// ErrInspect is returned when the runtime cannot report a command's state twice in a row.
	ErrInspect = errors.New("exec inspect failed")
	// ErrDrain is returned when the output of an exited command never reaches EOF.
	ErrDrain = errors.New("output stream did not end")
)

// Runner executes commands inside sandboxes and waits for them by polling.
type Runner struct {
	runtime    domain.Runtime
	interval   time.Duration
	drainGrace time.Duration
	logger     *slog.Logger
}

// NewRunner creates a Runner. A non-positive interval selects DefaultPollInterval.
func NewRunner(rt domain.Runtime, interval time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{runtime: rt, interval: interval, drainGrace: DefaultDrainGrace, logger: logger}
}

// Run executes cmd inside sb and waits at most timeout, measured from exec start.
//
// The returned error is reserved for runtime failures. A command that exits
// non-zero or exceeds its deadline is reported through the outcome. When the
// deadline is reached Run returns without waiting for the process to exit and
// taints sb; a command that finishes within the poll tick that crosses the
// deadline is reported as timed out as well.
func (r *Runner) Run(ctx context.Context, cmd []string, sb *Sandbox, timeout time.Duration) (domain.CommandOutcome, error) {
	if len(cmd) == 0 {
		return domain.CommandOutcome{}, errors.New("empty command")
	}

	execID, err := r.runtime.Exec(ctx, sb.RuntimeID, cmd)
	if err != nil {
		sb.Taint()
		return domain.CommandOutcome{}, fmt.Errorf("create exec in %s: %w", sb.RuntimeID, err)
	}

	stream, err := r.runtime.ExecStart(ctx, execID)
	if err != nil {
		sb.Taint()
		return domain.CommandOutcome{}, fmt.Errorf("start exec %s: %w", execID, err)
	}
	defer stream.Close()

	start := time.Now()
	capture := NewCapture()
	go capture.Consume(stream)

	timer := time.NewTimer(r.nextTick(start, timeout))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			sb.Taint()
			return domain.CommandOutcome{}, ctx.Err()
		case <-timer.C:
		}

		elapsed := time.Since(start)
		state, err := r.inspect(ctx, execID)
		if err != nil {
			sb.Taint()
			return domain.CommandOutcome{}, err
		}

		if elapsed >= timeout {
			sb.Taint()
			r.logger.Info("Command timed out",
				"runtimeID", sb.RuntimeID, "requestID", sb.RequestID(),
				"command", cmd[0], "timeout", timeout, "stillRunning", state.Running)
			return timedOut(capture), nil
		}

		if state.Running {
			timer.Reset(r.nextTick(start, timeout))
			continue
		}

		return r.drain(ctx, sb, capture, stream, state, timeout-elapsed)
	}
}

// drain waits for the output stream to reach EOF after the command exited.
// The command finished in time, so a stream that outlives the deadline by more
// than the drain grace is a runtime failure, not a timeout.
func (r *Runner) drain(ctx context.Context, sb *Sandbox, capture *Capture, stream io.Closer, state domain.ExecState, remaining time.Duration) (domain.CommandOutcome, error) {
	deadline := time.NewTimer(max(remaining, 0) + r.drainGrace)
	defer deadline.Stop()

	select {
	case <-capture.Done():
	case <-deadline.C:
		sb.Taint()
		_ = stream.Close()
		return domain.CommandOutcome{}, fmt.Errorf("%w: %s", ErrDrain, sb.RuntimeID)
	case <-ctx.Done():
		sb.Taint()
		return domain.CommandOutcome{}, ctx.Err()
	}

	if err := capture.Err(); err != nil {
		sb.Taint()
		return domain.CommandOutcome{}, fmt.Errorf("read output of %s: %w", sb.RuntimeID, err)
	}

	return domain.CommandOutcome{
		ExitSucceeded: state.ExitCode == 0,
		Stdout:        capture.Stdout(),
		Stderr:        capture.Stderr(),
	}, nil
}

// inspect asks the runtime for the exec state, re-polling once on failure.
func (r *Runner) inspect(ctx context.Context, execID string) (domain.ExecState, error) {
	state, err := r.runtime.ExecInspect(ctx, execID)
	if err == nil {
		return state, nil
	}
	r.logger.Warn("Exec inspect failed, polling again", "execID", execID, "error", err)

	state, err = r.runtime.ExecInspect(ctx, execID)
	if err != nil {
		return domain.ExecState{}, fmt.Errorf("%w: exec %s: %w", ErrInspect, execID, err)
	}
	return state, nil
}

// nextTick returns the poll interval, shortened so that a tick lands on the deadline.
func (r *Runner) nextTick(start time.Time, timeout time.Duration) time.Duration {
	remaining := timeout - time.Since(start)
	if remaining < r.interval {
		return max(remaining, 0)
	}
	return r.interval
}

func timedOut(c *Capture) domain.CommandOutcome {
	return domain.CommandOutcome{
		TimedOut: true,
		Stdout:   c.Stdout(),
		Stderr:   c.Stderr(),
	}
}
