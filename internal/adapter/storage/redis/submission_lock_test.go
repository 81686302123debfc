package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionLock_AcquireAndRelease(t *testing.T) {
	mr, client := newTestClient(t)
	lock := NewSubmissionLock(client)
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, "order-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("settle:lock:order-1"))

	ok, err = lock.Acquire(ctx, "order-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	require.NoError(t, lock.Release(ctx, "order-1"))
	assert.False(t, mr.Exists("settle:lock:order-1"))

	ok, err = lock.Acquire(ctx, "order-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubmissionLock_SharedAcrossInstances(t *testing.T) {
	_, client := newTestClient(t)
	a := NewSubmissionLock(client)
	b := NewSubmissionLock(client)
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "order-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx, "order-1", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = b.Acquire(ctx, "order-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per order")
}

func TestSubmissionLock_ExpiredLockNotStolenOnRelease(t *testing.T) {
	mr, client := newTestClient(t)
	a := NewSubmissionLock(client)
	b := NewSubmissionLock(client)
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "order-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = b.Acquire(ctx, "order-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Release(ctx, "order-1"))
	assert.True(t, mr.Exists("settle:lock:order-1"), "b still holds the lock")
}

func TestSubmissionLock_ReleaseUnknownIsNoop(t *testing.T) {
	_, client := newTestClient(t)
	assert.NoError(t, NewSubmissionLock(client).Release(context.Background(), "never-locked"))
}
