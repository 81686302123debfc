package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token, so an
// expired lock re-acquired by another instance is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SubmissionLock implements ports.SubmissionLock using Redis SET NX.
type SubmissionLock struct {
	client *goredis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewSubmissionLock creates a new Redis-backed submission lock.
func NewSubmissionLock(client *goredis.Client) *SubmissionLock {
	return &SubmissionLock{
		client: client,
		prefix: "settle:lock:",
		tokens: make(map[string]string),
	}
}

// Acquire takes the lock for orderID. Returns false if another confirmation
// holds it.
func (l *SubmissionLock) Acquire(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	result, err := l.client.SetArgs(ctx, l.prefix+orderID, token, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis submission lock: %w", err)
	}
	if result != "OK" {
		return false, nil
	}

	l.mu.Lock()
	l.tokens[orderID] = token
	l.mu.Unlock()
	return true, nil
}

// Release drops a lock this instance holds. Unknown orders are ignored.
func (l *SubmissionLock) Release(ctx context.Context, orderID string) error {
	l.mu.Lock()
	token, ok := l.tokens[orderID]
	delete(l.tokens, orderID)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + orderID}, token).Err(); err != nil {
		return fmt.Errorf("redis submission unlock: %w", err)
	}
	return nil
}
