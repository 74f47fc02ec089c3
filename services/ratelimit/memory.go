package ratelimit

import (
	"context"
	"sync"
	"time"

	"smallbiznis-licensing/pkg/clock"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// MemoryLimiter is a sliding-window log. Keys are spread over shards so
// unrelated callers never contend on one lock.
type MemoryLimiter struct {
	clock  clock.Clock
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	hits   []time.Time
	window time.Duration
}

func NewMemoryLimiter(c clock.Clock) *MemoryLimiter {
	l := &MemoryLimiter{clock: c}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*bucket)
	}
	return l
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	return &l.shards[xxhash.Sum64String(key)%shardCount]
}

func (l *MemoryLimiter) CheckAndConsume(_ context.Context, callerKey, action string, maxAttempts int, window time.Duration) (Decision, error) {
	if maxAttempts <= 0 || window <= 0 {
		return allowAll(maxAttempts), nil
	}

	key := action + "|" + callerKey
	now := l.clock.Now()
	sh := l.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	b, ok := sh.buckets[key]
	if !ok {
		b = &bucket{}
		sh.buckets[key] = b
	}
	b.window = window
	b.prune(now)

	if len(b.hits) >= maxAttempts {
		return Decision{
			Allowed:    false,
			RetryAfter: b.hits[0].Add(window).Sub(now),
		}, nil
	}

	b.hits = append(b.hits, now)
	return Decision{Allowed: true, Remaining: maxAttempts - len(b.hits)}, nil
}

// Cleanup drops buckets with no attempt inside their window and returns how
// many were removed.
func (l *MemoryLimiter) Cleanup() int {
	now := l.clock.Now()
	removed := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for key, b := range sh.buckets {
			b.prune(now)
			if len(b.hits) == 0 {
				delete(sh.buckets, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.hits) && !b.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.hits = append(b.hits[:0], b.hits[i:]...)
	}
}
