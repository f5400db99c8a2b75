package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(Config{Capacity: 3, RatePS: 1, RefillRate: time.Hour})
	defer tb.Stop()

	require.True(t, tb.Allow())
	require.True(t, tb.Allow())
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())
	require.Equal(t, 0, tb.Available())
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(Config{Capacity: 5, RatePS: 200, RefillRate: 5 * time.Millisecond})
	defer tb.Stop()

	for tb.Allow() {
	}

	require.Eventually(t, func() bool {
		return tb.Available() > 0
	}, time.Second, 5*time.Millisecond)

	// 不會超過容量
	time.Sleep(100 * time.Millisecond)
	require.LessOrEqual(t, tb.Available(), 5)
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucket(Config{Capacity: 1, RatePS: 100, RefillRate: 5 * time.Millisecond})
	defer tb.Stop()

	ctx := context.Background()
	require.NoError(t, tb.Wait(ctx))

	start := time.Now()
	require.NoError(t, tb.Wait(ctx))
	require.Less(t, time.Since(start), time.Second)
}

func TestTokenBucketWaitCanceled(t *testing.T) {
	tb := NewTokenBucket(Config{Capacity: 1, RatePS: 1, RefillRate: time.Hour})
	defer tb.Stop()
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestTokenBucketWaitAfterStop(t *testing.T) {
	tb := NewTokenBucket(Config{Capacity: 1, RatePS: 1, RefillRate: time.Hour})
	require.True(t, tb.Allow())
	tb.Stop()
	tb.Stop()
	require.NoError(t, tb.Wait(context.Background()))
}
