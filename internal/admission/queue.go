// Package admission gates requests into the execution pipeline: it validates
// them, stores them in a durable FIFO and runs a bounded number concurrently.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/metrics"
	"github.com/dontdude/javabox/internal/router"
)

// Executor runs one request to completion.
type Executor interface {
	Run(ctx context.Context, req domain.Request) domain.Feedback
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req domain.Request) domain.Feedback

func (f ExecutorFunc) Run(ctx context.Context, req domain.Request) domain.Feedback {
	return f(ctx, req)
}

// InternalErrorMessage is reported when a request is lost inside the server.
const InternalErrorMessage = "Internal server error."

// Options configures a Queue.
type Options struct {
	// Concurrency is the number of requests executed at once.
	Concurrency int
	// MaxConcurrency caps Concurrency.
	MaxConcurrency int
	Logger         *slog.Logger
	Metrics        *metrics.Collector
}

type entry struct {
	req     domain.Request
	caller  router.Caller
	running bool
}

// Queue matches requests in the durable store to the callers waiting for them.
type Queue struct {
	store    domain.JobStore
	executor Executor
	router   *router.Router
	workers  int
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	entries map[string]*entry
	lastID  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue. Workers are started by Start.
func New(store domain.JobStore, executor Executor, r *router.Router, opts Options) *Queue {
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	if opts.MaxConcurrency > 0 && workers > opts.MaxConcurrency {
		workers = opts.MaxConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Queue{
		store:    store,
		executor: executor,
		router:   r,
		workers:  workers,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		entries:  make(map[string]*entry),
	}
}

// Enqueue assigns req an ID, validates it and appends it to the store.
// Exactly one Feedback is eventually delivered to caller: an invalid request
// or a failed push is answered immediately. The returned error reports why a
// request was answered without running.
func (q *Queue) Enqueue(ctx context.Context, req domain.Request, caller router.Caller) (string, error) {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	q.mu.Lock()
	req.ID = q.nextIDLocked(req.ClientID)
	q.mu.Unlock()

	if err := req.Validate(); err != nil {
		q.metrics.RejectedTotal.Inc()
		q.logger.Info("Request rejected", "requestID", req.ID, "error", err)
		q.reply(ctx, caller, domain.Failed(req, err.Error()), req.MaxOutputLength)
		return req.ID, err
	}

	q.mu.Lock()
	q.entries[req.ID] = &entry{req: req, caller: caller}
	q.mu.Unlock()

	if err := q.store.Push(ctx, req); err != nil {
		q.mu.Lock()
		delete(q.entries, req.ID)
		q.mu.Unlock()
		q.logger.Error("Failed to enqueue request", "requestID", req.ID, "error", err)
		q.reply(ctx, caller, domain.Failed(req, InternalErrorMessage), req.MaxOutputLength)
		return req.ID, fmt.Errorf("enqueue %s: %w", req.ID, err)
	}

	q.logger.Debug("Request enqueued", "requestID", req.ID, "mode", req.Mode)
	return req.ID, nil
}

// Start spawns the worker goroutines. It returns immediately.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.logger.Info("Starting admission workers", "concurrency", q.workers)

	for i := range q.workers {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop stops dequeuing and blocks until every worker has finished its current request.
// Requests still waiting in the store are answered with an internal error.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.logger.Info("Stopping admission workers, waiting for runs to drain...")
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	abandoned := q.entries
	q.entries = make(map[string]*entry)
	q.mu.Unlock()

	for id, e := range abandoned {
		q.logger.Warn("Request abandoned at shutdown", "requestID", id)
		q.reply(context.Background(), e.caller, domain.Failed(e.req, InternalErrorMessage), e.req.MaxOutputLength)
	}
	q.logger.Info("Admission workers stopped", "abandoned", len(abandoned))
}

// Pending returns the number of accepted requests whose Feedback has not been delivered.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// OnComplete routes fb to the waiting caller and acknowledges the job.
// A Feedback whose entry is gone is dropped; the job is still acknowledged.
func (q *Queue) OnComplete(ctx context.Context, token string, fb domain.Feedback) {
	q.mu.Lock()
	e, ok := q.entries[fb.RequestID]
	delete(q.entries, fb.RequestID)
	q.mu.Unlock()

	if ok {
		q.reply(ctx, e.caller, fb, e.req.MaxOutputLength)
	} else {
		q.logger.Warn("No caller waiting for feedback", "requestID", fb.RequestID)
	}

	if err := q.store.Ack(ctx, token); err != nil {
		q.logger.Error("Failed to acknowledge job", "requestID", fb.RequestID, "token", token, "error", err)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	q.logger.Debug("Worker started", "workerID", id)

	for {
		if ctx.Err() != nil {
			q.logger.Debug("Worker stopped", "workerID", id)
			return
		}
		job, err := q.store.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrQueueClosed) {
				q.logger.Debug("Worker stopped", "workerID", id)
				return
			}
			q.logger.Error("Failed to dequeue job", "workerID", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// Runs in progress finish even when the workers are stopped.
		q.process(context.WithoutCancel(ctx), job)
	}
}

func (q *Queue) process(ctx context.Context, job domain.Job) {
	req := job.Request

	q.mu.Lock()
	e, ok := q.entries[req.ID]
	duplicate := ok && e.running
	if ok && !duplicate {
		e.running = true
	}
	q.mu.Unlock()

	if !ok || duplicate {
		q.logger.Warn("Dropping redelivered job", "requestID", req.ID, "inFlight", duplicate)
		if err := q.store.Ack(ctx, job.Token); err != nil {
			q.logger.Error("Failed to acknowledge job", "requestID", req.ID, "error", err)
		}
		return
	}

	q.metrics.InFlight.Inc()
	fb := q.execute(ctx, req)
	q.metrics.InFlight.Dec()

	q.OnComplete(ctx, job.Token, fb)
}

func (q *Queue) execute(ctx context.Context, req domain.Request) (fb domain.Feedback) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Execution panicked", "requestID", req.ID, "panic", r)
			fb = domain.Failed(req, InternalErrorMessage)
		}
	}()
	return q.executor.Run(ctx, req)
}

func (q *Queue) reply(ctx context.Context, caller router.Caller, fb domain.Feedback, maxLength int) {
	// Delivery errors are logged by the router.
	_ = q.router.Deliver(ctx, caller, fb, maxLength)
}

// nextIDLocked returns clientID + ":::" + unix millis, strictly increasing per process.
func (q *Queue) nextIDLocked(clientID string) string {
	ms := time.Now().UnixMilli()
	if ms <= q.lastID {
		ms = q.lastID + 1
	}
	q.lastID = ms
	return clientID + ":::" + strconv.FormatInt(ms, 10)
}
