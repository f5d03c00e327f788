package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const settledPrefix = "payments:settled:"

// SettledCache remembers tx refs that already reached success so repeated
// webhook deliveries can skip the gateway verification round trip. The ledger
// stays authoritative; a miss only costs one extra verification.
type SettledCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewSettledCache(client *goredis.Client, ttl time.Duration) *SettledCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SettledCache{client: client, ttl: ttl}
}

func (c *SettledCache) MarkSettled(ctx context.Context, txRef string) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return fmt.Errorf("tx_ref is required")
	}

	if err := c.client.Set(ctx, settledPrefix+txRef, "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("mark tx_ref settled: %w", err)
	}
	return nil
}

func (c *SettledCache) IsSettled(ctx context.Context, txRef string) (bool, error) {
	if c.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	txRef = strings.TrimSpace(txRef)
	if txRef == "" {
		return false, nil
	}

	err := c.client.Get(ctx, settledPrefix+txRef).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check tx_ref settled: %w", err)
	}
	return true, nil
}
