package domain

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by Pop once the store has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Job is a request popped from the durable FIFO together with its ack token.
type Job struct {
	Request Request
	Token   string
}

// JobStore defines the contract of the durable FIFO behind the admission queue.
// Delivery is at-least-once: a popped job that is never acknowledged may be delivered again.
type JobStore interface {
	// Push appends a request to the tail of the queue.
	Push(ctx context.Context, req Request) error

	// Pop blocks until a job is available or ctx is done.
	Pop(ctx context.Context) (Job, error)

	// Ack marks a popped job as done.
	Ack(ctx context.Context, token string) error
}
