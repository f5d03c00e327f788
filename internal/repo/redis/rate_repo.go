package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var errNilClient = errors.New("redis client is nil")

// RateRepo stores per-user command counters in fixed windows.
type RateRepo struct {
	client *goredis.Client
}

func NewRateRepo(client *goredis.Client) *RateRepo {
	return &RateRepo{client: client}
}

// IncrementWindow counts one hit in the window keyed by key. The window opens
// on the first hit; a counter that somehow lost its expiry gets a fresh one.
func (r *RateRepo) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, errNilClient
	}
	if key == "" || window <= 0 {
		return 0, 0, fmt.Errorf("invalid rate window for key %q", key)
	}

	var (
		incr *goredis.IntCmd
		ttl  *goredis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("increment rate window %s: %w", key, err)
	}

	left := ttl.Val()
	if left < 0 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("expire rate window %s: %w", key, err)
		}
		left = window
	}
	return incr.Val(), left, nil
}

// WindowState reads the counter without counting a hit. A missing key is an
// empty window.
func (r *RateRepo) WindowState(ctx context.Context, key string) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, errNilClient
	}
	if key == "" {
		return 0, 0, fmt.Errorf("rate key is required")
	}

	var (
		get *goredis.StringCmd
		ttl *goredis.DurationCmd
	)
	_, err := r.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, 0, fmt.Errorf("read rate window %s: %w", key, err)
	}

	count, err := get.Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("parse rate window %s: %w", key, err)
	}
	return count, max(ttl.Val(), 0), nil
}
