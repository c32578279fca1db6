package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Limiter is a Redis fixed-window counter limiting uploads per session.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// Options configures the Limiter.
type Options struct {
	RedisURL string
	Limit    int
	Window   time.Duration
}

func New(opts Options) (*Limiter, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(ro)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Limiter{rdb: c, limit: opts.Limit, window: opts.Window}, nil
}

func (l *Limiter) key(sessionID string) string {
	return fmt.Sprintf("rl:upload:%s", sessionID)
}

// Allow records one upload for the session and reports whether it stays within
// the window limit. The window starts on the first upload and resets when the
// key expires. Fails open on Redis errors so a cache outage never blocks users.
func (l *Limiter) Allow(ctx context.Context, sessionID string) bool {
	k := l.key(sessionID)
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		_ = l.rdb.Expire(ctx, k, l.window).Err()
	}
	return n <= int64(l.limit)
}

// Remaining returns how many uploads the session has left in the current window.
func (l *Limiter) Remaining(ctx context.Context, sessionID string) int {
	n, err := l.rdb.Get(ctx, l.key(sessionID)).Int64()
	if err != nil {
		return l.limit
	}
	left := l.limit - int(n)
	if left < 0 {
		return 0
	}
	return left
}

func (l *Limiter) Close() error { return l.rdb.Close() }
