package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	fbclock "github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	mock := fbclock.NewMock()
	l := NewMemoryLimiter(mock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndConsume(ctx, "10.0.0.1", ActionAcquire, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2-i, d.Remaining)
		mock.Add(10 * time.Second)
	}

	d, err := l.CheckAndConsume(ctx, "10.0.0.1", ActionAcquire, 3, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 30*time.Second, d.RetryAfter)

	// other callers and other actions have their own buckets
	d, _ = l.CheckAndConsume(ctx, "10.0.0.2", ActionAcquire, 3, time.Minute)
	require.True(t, d.Allowed)
	d, _ = l.CheckAndConsume(ctx, "10.0.0.1", ActionRelease, 3, time.Minute)
	require.True(t, d.Allowed)

	// the oldest attempt slides out of the window
	mock.Add(30 * time.Second)
	d, _ = l.CheckAndConsume(ctx, "10.0.0.1", ActionAcquire, 3, time.Minute)
	require.True(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
}

func TestMemoryLimiterRefusalsConsumeNothing(t *testing.T) {
	mock := fbclock.NewMock()
	l := NewMemoryLimiter(mock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := l.CheckAndConsume(ctx, "10.0.0.1", ActionSync, 2, time.Minute)
		require.True(t, d.Allowed)
	}

	mock.Add(30 * time.Second)
	for i := 0; i < 10; i++ {
		d, _ := l.CheckAndConsume(ctx, "10.0.0.1", ActionSync, 2, time.Minute)
		require.False(t, d.Allowed)
		require.Equal(t, 30*time.Second, d.RetryAfter)
	}

	// the hammering above did not push the window out
	mock.Add(30 * time.Second)
	d, _ := l.CheckAndConsume(ctx, "10.0.0.1", ActionSync, 2, time.Minute)
	require.True(t, d.Allowed)
}

func TestMemoryLimiterDisabledRule(t *testing.T) {
	l := NewMemoryLimiter(fbclock.NewMock())
	for i := 0; i < 100; i++ {
		d, err := l.CheckAndConsume(context.Background(), "k", ActionVerify, 0, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestMemoryLimiterConcurrentCallers(t *testing.T) {
	l := NewMemoryLimiter(fbclock.NewMock())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndConsume(context.Background(), "k", ActionAcquire, 10, time.Minute)
			require.NoError(t, err)
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 10, allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	mock := fbclock.NewMock()
	l := NewMemoryLimiter(mock)
	ctx := context.Background()

	_, _ = l.CheckAndConsume(ctx, "a", ActionAcquire, 5, time.Minute)
	_, _ = l.CheckAndConsume(ctx, "b", ActionAcquire, 5, 10*time.Minute)

	mock.Add(2 * time.Minute)
	require.Equal(t, 1, l.Cleanup())
	require.Equal(t, 0, l.Cleanup())
}
