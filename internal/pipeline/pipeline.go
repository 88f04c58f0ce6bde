// Package pipeline compiles and runs one request inside a pooled sandbox and
// shapes the resulting Feedback.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/sandbox"
)

// Messages reported to callers.
const (
	CompileTimeoutMessage = "Compilation: maximum time limit reached."
	ExecuteTimeoutMessage = "Execution: maximum time limit reached."
	InternalErrorMessage  = "Internal server error."
)

// Options configures a Pipeline.
type Options struct {
	JavaFlags []string
	Logger    *slog.Logger
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
}

// Pipeline runs the compile and run stages of a request.
type Pipeline struct {
	pool     *sandbox.Pool
	runner   *sandbox.Runner
	commands Commands
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// New creates a Pipeline drawing sandboxes from pool.
func New(pool *sandbox.Pool, runner *sandbox.Runner, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Pipeline{
		pool:     pool,
		runner:   runner,
		commands: Commands{JavaFlags: opts.JavaFlags},
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

// Run executes req and always returns exactly one Feedback. Infrastructure
// failures become a failing Feedback with InternalErrorMessage. The sandbox
// is recycled after a clean run and destroyed otherwise.
func (p *Pipeline) Run(ctx context.Context, req domain.Request) (fb domain.Feedback) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.mode", req.Mode.String()),
	))
	defer span.End()

	flavor := domain.FlavorFor(req.Mode)
	sb, err := p.pool.Acquire(ctx, flavor, req.ID, req.Payload())
	if err != nil {
		return p.fail(span, req, "acquire", err)
	}

	defer func() {
		if r := recover(); r != nil {
			p.pool.Discard(sb, "panic")
			fb = p.fail(span, req, "panic", fmt.Errorf("panic: %v", r))
		}
	}()

	fb, err = p.execute(ctx, req, sb)
	if err != nil {
		p.pool.Discard(sb, "error")
		return p.fail(span, req, "execute", fmt.Errorf("sandbox %s: %w", sb.RuntimeID, err))
	}

	if sb.Tainted() {
		p.pool.Discard(sb, "timeout")
	} else {
		p.pool.Release(sb)
	}

	status := "failed"
	switch {
	case fb.TimedOut:
		status = "timeout"
	case fb.Passed:
		status = "passed"
	}
	span.SetAttributes(attribute.String("result.status", status))
	p.metrics.ExecutionsTotal.WithLabelValues(req.Mode.String(), status).Inc()
	return fb
}

func (p *Pipeline) execute(ctx context.Context, req domain.Request, sb *sandbox.Sandbox) (domain.Feedback, error) {
	compiled, err := p.stage(ctx, "compile", p.commands.Compile(req), sb, req.CompileTimeout)
	if err != nil {
		return domain.Feedback{}, err
	}
	if !compiled.Succeeded() {
		fb := domain.Failed(req, string(compiled.Stderr))
		fb.TimedOut = compiled.TimedOut
		if compiled.TimedOut {
			fb.ErrorMessage = CompileTimeoutMessage
		}
		return fb, nil
	}

	ran, err := p.stage(ctx, "run", p.commands.Run(req), sb, req.ExecuteTimeout)
	if err != nil {
		return domain.Feedback{}, err
	}

	fb := domain.Feedback{
		RequestID:    req.ID,
		ClientID:     req.ClientID,
		Passed:       ran.ExitSucceeded,
		Output:       strings.TrimSpace(string(ran.Stdout)),
		ErrorMessage: string(ran.Stderr),
		TimedOut:     ran.TimedOut,
	}
	if ran.TimedOut {
		fb.ErrorMessage = ExecuteTimeoutMessage
		return fb, nil
	}

	if req.Mode == domain.JUnitRun {
		output, report := ParseTestOutput(string(ran.Stdout))
		fb.Output = strings.TrimSpace(output)
		fb.TestReport = report
	}
	return fb, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, cmd []string, sb *sandbox.Sandbox, timeout time.Duration) (domain.CommandOutcome, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(
		attribute.String("sandbox.id", sb.RuntimeID),
		attribute.Int64("stage.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	start := time.Now()
	out, err := p.runner.Run(ctx, cmd, sb, timeout)
	p.metrics.StageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetAttributes(
		attribute.Bool("stage.succeeded", out.ExitSucceeded),
		attribute.Bool("stage.timed_out", out.TimedOut),
	)
	p.logger.Debug("Stage finished", "requestID", sb.RequestID(), "stage", name,
		"succeeded", out.ExitSucceeded, "timedOut", out.TimedOut, "elapsed", time.Since(start))
	return out, nil
}

func (p *Pipeline) fail(span trace.Span, req domain.Request, step string, err error) domain.Feedback {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.logger.Error("Pipeline failed", "requestID", req.ID, "clientID", req.ClientID,
		"mode", req.Mode, "step", step, "error", err)
	p.metrics.ExecutionsTotal.WithLabelValues(req.Mode.String(), "error").Inc()
	return domain.Failed(req, InternalErrorMessage)
}
