package transport

import (
	"context"
	"time"

	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/queue"
)

// RedisQueue drains a Redis work queue filled by cmd/seed or an upstream
// collector.
type RedisQueue struct {
	q   *queue.RedisQueue
	log *logging.Logger
}

func NewRedisQueue(q *queue.RedisQueue, log *logging.Logger) *RedisQueue {
	if log == nil {
		log = logging.Nop()
	}
	return &RedisQueue{q: q, log: log}
}

func (r *RedisQueue) Run(ctx context.Context, h Handler) error {
	if n, err := r.q.Recover(ctx); err != nil {
		r.log.Warnw("queue recovery failed", "err", err)
	} else if n > 0 {
		r.log.Infow("requeued unacked events", "count", n)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		ev, ack, ok, err := r.q.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warnw("queue lease failed", "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if !ok {
			continue
		}
		if err := h(ctx, ev); err != nil {
			r.log.Warnw("event handling failed", "id", ev.MessageID, "err", err)
		}
		if err := ack(); err != nil {
			r.log.Warnw("queue ack failed", "id", ev.MessageID, "err", err)
		}
	}
}
