// Package router delivers finished Feedback to the caller that submitted the request.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dontdude/javabox/internal/domain"
)

// Caller is the transport-side context a Feedback is routed to.
// The router never inspects it beyond calling Deliver.
type Caller interface {
	Deliver(ctx context.Context, fb domain.Feedback) error
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, fb domain.Feedback) error

func (f CallerFunc) Deliver(ctx context.Context, fb domain.Feedback) error {
	return f(ctx, fb)
}

// Router applies the output policy and hands Feedback to callers.
type Router struct {
	logger *slog.Logger
}

// New creates a Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Deliver truncates fb to maxLength and passes it to caller.
func (r *Router) Deliver(ctx context.Context, caller Caller, fb domain.Feedback, maxLength int) error {
	fb = Truncate(fb, maxLength)
	if err := caller.Deliver(ctx, fb); err != nil {
		r.logger.Warn("Failed to deliver feedback", "requestID", fb.RequestID, "clientID", fb.ClientID, "error", err)
		return fmt.Errorf("deliver %s: %w", fb.RequestID, err)
	}
	r.logger.Debug("Feedback delivered", "requestID", fb.RequestID, "passed", fb.Passed, "timedOut", fb.TimedOut)
	return nil
}

// Truncate cuts Output and ErrorMessage to at most maxLength characters.
// A non-positive maxLength leaves fb unchanged.
func Truncate(fb domain.Feedback, maxLength int) domain.Feedback {
	if maxLength <= 0 {
		return fb
	}
	fb.Output = truncate(fb.Output, maxLength)
	fb.ErrorMessage = truncate(fb.ErrorMessage, maxLength)
	return fb
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
