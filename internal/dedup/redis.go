package dedup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Shared suppresses repeats across several ingestors reading the same feed.
type Shared interface {
	Seen(ctx context.Context, fp string) bool
}

// Redis implements Shared with SETNX and a TTL equal to the dedup window.
type Redis struct {
	cli        *redis.Client
	ttl        time.Duration
	prefix     string
	errorCount atomic.Int64
	log        *zap.SugaredLogger
}

func NewRedis(addr string, ttl time.Duration, log *zap.SugaredLogger) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultWindow
	}
	return &Redis{cli: cli, ttl: ttl, prefix: "skywatch:seen:", log: log}, nil
}

func (r *Redis) Seen(ctx context.Context, fp string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ok, err := r.cli.SetNX(ctx, r.prefix+fp, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		n := r.errorCount.Add(1)
		if n%100 == 1 && r.log != nil {
			r.log.Warnw("redis dedup error", "count", n, "err", err)
		}
		return false // be permissive on failure
	}
	return !ok
}

// Ping reports Redis reachability for health checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.cli.Close() }
