// Package queue provides the durable FIFO behind the admission queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dontdude/javabox/internal/domain"
)

// ErrClosed is returned by Push and Pop once the store has been closed.
var ErrClosed = fmt.Errorf("job store: %w", domain.ErrQueueClosed)

const (
	requestField = "request"
	readBlock    = 2 * time.Second
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	Stream   string
	Group    string
	// Consumer names this process inside the group. Defaults to hostname plus a random suffix.
	Consumer string
	Logger   *slog.Logger
}

// RedisStore implements domain.JobStore on a Redis Stream with a consumer group.
// Popped entries stay in the group's pending list until acknowledged.
type RedisStore struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *slog.Logger

	mu          sync.Mutex
	redelivered []domain.Job
}

var _ domain.JobStore = (*RedisStore)(nil)

// NewRedisStore connects to Redis and ensures the consumer group exists.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		// Lets a cancelled context interrupt a blocking XREADGROUP.
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	// MkStream guarantees the stream exists even if empty.
	err := rdb.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		_ = rdb.Close()
		return nil, fmt.Errorf("creating consumer group %s: %w", opts.Group, err)
	}

	consumer := opts.Consumer
	if consumer == "" {
		host, _ := os.Hostname()
		consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisStore{
		client:   rdb,
		stream:   opts.Stream,
		group:    opts.Group,
		consumer: consumer,
		logger:   logger,
	}, nil
}

// Push appends req with XADD.
func (r *RedisStore) Push(ctx context.Context, req domain.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{requestField: data},
	}).Err()
	if err != nil {
		return r.wrap("push", err)
	}
	return nil
}

// Pop returns the next job: first anything reclaimed from stale consumers, then
// new entries read with XREADGROUP.
func (r *RedisStore) Pop(ctx context.Context) (domain.Job, error) {
	if job, ok := r.popRedelivered(); ok {
		return job, nil
	}

	for {
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, ">"},
			Count:    1,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if cerr := contextErr(ctx, err); cerr != nil {
					return domain.Job{}, cerr
				}
				if job, ok := r.popRedelivered(); ok {
					return job, nil
				}
				continue
			}
			if cerr := contextErr(ctx, err); cerr != nil {
				return domain.Job{}, cerr
			}
			return domain.Job{}, r.wrap("pop", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				job, err := r.decode(msg)
				if err != nil {
					r.logger.Error("Dropping malformed job", "msgID", msg.ID, "error", err)
					_ = r.client.XAck(ctx, r.stream, r.group, msg.ID).Err()
					continue
				}
				return job, nil
			}
		}
	}
}

// Ack removes the entry from the pending list with XACK.
func (r *RedisStore) Ack(ctx context.Context, token string) error {
	if err := r.client.XAck(ctx, r.stream, r.group, token).Err(); err != nil {
		return r.wrap("ack", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) decode(msg redis.XMessage) (domain.Job, error) {
	val, ok := msg.Values[requestField].(string)
	if !ok {
		return domain.Job{}, fmt.Errorf("missing %q field", requestField)
	}
	var req domain.Request
	if err := json.Unmarshal([]byte(val), &req); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal request: %w", err)
	}
	return domain.Job{Request: req, Token: msg.ID}, nil
}

func (r *RedisStore) popRedelivered() (domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.redelivered) == 0 {
		return domain.Job{}, false
	}
	job := r.redelivered[0]
	r.redelivered = r.redelivered[1:]
	return job, true
}

// deadlineSlack covers a socket deadline that fires just before ctx observes its own.
const deadlineSlack = 50 * time.Millisecond

// contextErr reports the context error behind err, if any. The client shares
// the context deadline with the socket, so a read can time out while ctx.Err()
// is still nil.
func contextErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	deadline, ok := ctx.Deadline()
	if !ok || !errors.Is(err, os.ErrDeadlineExceeded) || time.Until(deadline) > deadlineSlack {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Until(deadline) + deadlineSlack):
		return context.DeadlineExceeded
	}
}

func (r *RedisStore) wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("redis %s on %s: %w", op, r.stream, err)
}
