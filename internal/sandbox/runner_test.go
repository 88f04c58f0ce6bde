package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dontdude/javabox/internal/sandbox/sandboxtest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startedSandbox(t *testing.T, rt *sandboxtest.Runtime) *Sandbox {
	t.Helper()
	ctx := context.Background()
	id, err := rt.Create(ctx, "test")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := rt.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return &Sandbox{RuntimeID: id}
}

func TestRunnerRun(t *testing.T) {
	tests := []struct {
		name        string
		script      sandboxtest.Script
		timeout     time.Duration
		wantSuccess bool
		wantTimeout bool
		wantStdout  string
		wantStderr  string
		wantTainted bool
	}{
		{
			name:        "success",
			script:      sandboxtest.Script{Stdout: "Hello world!\n", Duration: 20 * time.Millisecond},
			timeout:     time.Second,
			wantSuccess: true,
			wantStdout:  "Hello world!\n",
		},
		{
			name:       "non-zero exit",
			script:     sandboxtest.Script{Stderr: "Exception in thread \"main\"", ExitCode: 1},
			timeout:    time.Second,
			wantStderr: "Exception in thread \"main\"",
		},
		{
			name:        "runaway command",
			script:      sandboxtest.Script{Stdout: "spinning", Hang: true},
			timeout:     60 * time.Millisecond,
			wantTimeout: true,
			wantStdout:  "spinning",
			wantTainted: true,
		},
		{
			name:        "both streams",
			script:      sandboxtest.Script{Stdout: "out", Stderr: "warn"},
			timeout:     time.Second,
			wantSuccess: true,
			wantStdout:  "out",
			wantStderr:  "warn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := sandboxtest.New()
			rt.Handler = func(string, []string) sandboxtest.Script { return tt.script }
			sb := startedSandbox(t, rt)
			r := NewRunner(rt, 10*time.Millisecond, discardLogger())

			out, err := r.Run(context.Background(), []string{"java", "Main"}, sb, tt.timeout)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if out.ExitSucceeded != tt.wantSuccess {
				t.Errorf("ExitSucceeded = %v, want %v", out.ExitSucceeded, tt.wantSuccess)
			}
			if out.TimedOut != tt.wantTimeout {
				t.Errorf("TimedOut = %v, want %v", out.TimedOut, tt.wantTimeout)
			}
			if out.ExitSucceeded && out.TimedOut {
				t.Error("outcome both succeeded and timed out")
			}
			if string(out.Stdout) != tt.wantStdout {
				t.Errorf("Stdout = %q, want %q", out.Stdout, tt.wantStdout)
			}
			if !tt.wantTimeout && string(out.Stderr) != tt.wantStderr {
				t.Errorf("Stderr = %q, want %q", out.Stderr, tt.wantStderr)
			}
			if sb.Tainted() != tt.wantTainted {
				t.Errorf("Tainted() = %v, want %v", sb.Tainted(), tt.wantTainted)
			}
		})
	}
}

func TestRunnerTimeoutIsDetectedWithinOneInterval(t *testing.T) {
	rt := sandboxtest.New()
	rt.Handler = func(string, []string) sandboxtest.Script { return sandboxtest.Script{Hang: true} }
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 50*time.Millisecond, discardLogger())

	start := time.Now()
	out, err := r.Run(context.Background(), []string{"java", "Loop"}, sb, 120*time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if elapsed < 120*time.Millisecond || elapsed > 120*time.Millisecond+500*time.Millisecond {
		t.Errorf("Run took %v, want about 120ms", elapsed)
	}
}

func TestRunnerFinishInDeadlineTickCountsAsTimeout(t *testing.T) {
	rt := sandboxtest.New()
	rt.Handler = func(string, []string) sandboxtest.Script {
		return sandboxtest.Script{Stdout: "done", Duration: 45 * time.Millisecond}
	}
	sb := startedSandbox(t, rt)
	// The first tick is clamped to the 50ms deadline, after the command already exited.
	r := NewRunner(rt, 100*time.Millisecond, discardLogger())

	out, err := r.Run(context.Background(), []string{"java", "Main"}, sb, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.TimedOut || out.ExitSucceeded {
		t.Errorf("outcome = %+v, want timed out", out)
	}
	if !sb.Tainted() {
		t.Error("sandbox not tainted after timeout")
	}
}

func TestRunnerSlowStreamAfterExitIsNotATimeout(t *testing.T) {
	rt := sandboxtest.New()
	rt.Handler = func(string, []string) sandboxtest.Script {
		return sandboxtest.Script{Stdout: "done", Duration: 120 * time.Millisecond, StreamLag: 250 * time.Millisecond}
	}
	sb := startedSandbox(t, rt)
	// Exit is seen at the 200ms tick; the stream ends at about 370ms, after the 300ms deadline.
	r := NewRunner(rt, 200*time.Millisecond, discardLogger())

	out, err := r.Run(context.Background(), []string{"java", "Main"}, sb, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.TimedOut || !out.ExitSucceeded {
		t.Errorf("outcome = %+v, want success", out)
	}
	if string(out.Stdout) != "done" {
		t.Errorf("Stdout = %q, want %q", out.Stdout, "done")
	}
	if sb.Tainted() {
		t.Error("sandbox tainted after a finished command")
	}
}

func TestRunnerStreamNeverEnding(t *testing.T) {
	rt := sandboxtest.New()
	rt.Handler = func(string, []string) sandboxtest.Script {
		return sandboxtest.Script{Duration: 20 * time.Millisecond, StreamLag: time.Second}
	}
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 10*time.Millisecond, discardLogger())
	r.drainGrace = 20 * time.Millisecond

	out, err := r.Run(context.Background(), []string{"java", "Main"}, sb, 60*time.Millisecond)
	if !errors.Is(err, ErrDrain) {
		t.Fatalf("Run() = %+v, %v, want ErrDrain", out, err)
	}
	if !sb.Tainted() {
		t.Error("sandbox not tainted after drain failure")
	}
}

func TestRunnerInspectRetry(t *testing.T) {
	rt := sandboxtest.New()
	rt.Handler = func(string, []string) sandboxtest.Script { return sandboxtest.Script{Stdout: "ok"} }
	rt.FailInspect(1)
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 10*time.Millisecond, discardLogger())

	out, err := r.Run(context.Background(), []string{"javac", "Main.java"}, sb, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v, want recovery after one failed inspect", err)
	}
	if !out.Succeeded() {
		t.Errorf("outcome = %+v, want success", out)
	}
}

func TestRunnerPersistentInspectFailure(t *testing.T) {
	rt := sandboxtest.New()
	rt.FailInspect(2)
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 10*time.Millisecond, discardLogger())

	_, err := r.Run(context.Background(), []string{"javac", "Main.java"}, sb, time.Second)
	if !errors.Is(err, ErrInspect) {
		t.Fatalf("Run() error = %v, want ErrInspect", err)
	}
	if !sb.Tainted() {
		t.Error("sandbox not tainted after inspect failure")
	}
}

func TestRunnerExecError(t *testing.T) {
	rt := sandboxtest.New()
	rt.ExecErr = errors.New("daemon gone")
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 10*time.Millisecond, discardLogger())

	if _, err := r.Run(context.Background(), []string{"javac"}, sb, time.Second); err == nil {
		t.Fatal("Run() error = nil, want exec error")
	}
	if !sb.Tainted() {
		t.Error("sandbox not tainted after exec error")
	}
}

func TestRunnerEmptyCommand(t *testing.T) {
	rt := sandboxtest.New()
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 0, nil)

	if _, err := r.Run(context.Background(), nil, sb, time.Second); err == nil {
		t.Fatal("Run() error = nil for empty command")
	}
}

func TestRunnerContextCancelled(t *testing.T) {
	rt := sandboxtest.New()
	rt.Handler = func(string, []string) sandboxtest.Script { return sandboxtest.Script{Hang: true} }
	sb := startedSandbox(t, rt)
	r := NewRunner(rt, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, []string{"java", "Loop"}, sb, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
}
