package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pos-settlement/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// RateCache implements ports.RateCache. The last accepted bundle is stored
// as JSON under a single key shared by every API instance.
type RateCache struct {
	client *goredis.Client
	key    string
}

// NewRateCache creates a new Redis-backed rate cache.
func NewRateCache(client *goredis.Client) *RateCache {
	return &RateCache{
		client: client,
		key:    "rates:current",
	}
}

// Get returns the cached bundle, or nil, nil if there is none.
func (c *RateCache) Get(ctx context.Context) (*domain.RateState, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis rate cache get: %w", err)
	}

	var state domain.RateState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("decode cached rates: %w", err)
	}
	return &state, nil
}

// Set stores the bundle until ttl elapses. A non-positive ttl is a no-op.
func (c *RateCache) Set(ctx context.Context, state *domain.RateState, ttl time.Duration) error {
	if state == nil || ttl <= 0 {
		return nil
	}
	val, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode rates: %w", err)
	}
	if err := c.client.Set(ctx, c.key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis rate cache set: %w", err)
	}
	return nil
}
