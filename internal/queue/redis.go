package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gustycube/skywatch/internal/types"
)

const DefaultKey = "skywatch:queue"

// RedisQueue is a reliable list-based queue of inbound events. Leased
// items sit in a processing list until acked.
type RedisQueue struct {
	cli      *redis.Client
	queueKey string
	procKey  string
	wait     time.Duration
}

func NewRedis(addr, key string) (*RedisQueue, error) {
	if key == "" {
		key = DefaultKey
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		cli.Close()
		return nil, err
	}
	return &RedisQueue{cli: cli, queueKey: key, procKey: key + ":processing", wait: 5 * time.Second}, nil
}

// Lease blocks briefly for the next event. ok is false when nothing
// arrived. ack removes the event from the processing list.
func (q *RedisQueue) Lease(ctx context.Context) (ev types.Event, ack func() error, ok bool, err error) {
	raw, err := q.cli.BLMove(ctx, q.queueKey, q.procKey, "RIGHT", "LEFT", q.wait).Result()
	if errors.Is(err, redis.Nil) {
		return types.Event{}, nil, false, nil
	}
	if err != nil {
		return types.Event{}, nil, false, err
	}
	ack = func() error {
		return q.cli.LRem(context.Background(), q.procKey, 1, raw).Err()
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		_ = ack()
		return types.Event{}, nil, false, err
	}
	return ev, ack, true, nil
}

// ParseEvent reads a JSON event or, for any other line, a plain-text one.
func ParseEvent(line string) (types.Event, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return types.Event{Text: line}, nil
	}
	var ev types.Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return types.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if strings.TrimSpace(ev.Text) == "" {
		return types.Event{}, errors.New("event has no text")
	}
	return ev, nil
}

// Push enqueues an event.
func (q *RedisQueue) Push(ctx context.Context, ev types.Event) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.cli.LPush(ctx, q.queueKey, b).Err()
}

// Recover returns events left in the processing list by a crashed worker
// to the consuming end of the queue.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.cli.LMove(ctx, q.procKey, q.queueKey, "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.cli.LLen(ctx, q.queueKey).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error { return q.cli.Ping(ctx).Err() }

func (q *RedisQueue) Close() error { return q.cli.Close() }
