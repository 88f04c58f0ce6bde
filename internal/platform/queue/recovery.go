package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const reclaimBatch = 10

// Reclaim takes over entries that have been pending for longer than minIdle,
// typically left behind by a crashed consumer, and queues them for redelivery
// through Pop. It returns the number of entries reclaimed.
func (r *RedisStore) Reclaim(ctx context.Context, minIdle time.Duration) (int, error) {
	start := "0-0"
	total := 0

	for {
		messages, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			MinIdle:  minIdle,
			Start:    start,
			Count:    reclaimBatch,
			Consumer: r.consumer,
		}).Result()
		if err != nil {
			return total, r.wrap("reclaim", err)
		}

		for _, msg := range messages {
			job, err := r.decode(msg)
			if err != nil {
				r.logger.Error("Dropping malformed stale job", "msgID", msg.ID, "error", err)
				if err := r.client.XAck(ctx, r.stream, r.group, msg.ID).Err(); err != nil {
					return total, fmt.Errorf("ack malformed job %s: %w", msg.ID, err)
				}
				continue
			}
			r.mu.Lock()
			r.redelivered = append(r.redelivered, job)
			r.mu.Unlock()
			total++
		}

		if next == "0-0" || len(messages) == 0 {
			break
		}
		start = next
	}

	if total > 0 {
		r.logger.Warn("Reclaimed stale jobs", "count", total, "minIdle", minIdle)
	}
	return total, nil
}
