// Package ratelimit guards mutating endpoints against runaway or abusive
// callers. Buckets are advisory and may be lost on restart.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrRateLimited = errors.New("rate limit exceeded")

const (
	ActionAcquire        = "acquire"
	ActionHeartbeat      = "heartbeat"
	ActionRelease        = "release"
	ActionForceTerminate = "force_terminate"
	ActionSequence       = "sequence"
	ActionSync           = "sync"
	ActionVerify         = "verify"
)

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts attempts per (callerKey, action) and refuses calls once
// maxAttempts are used up within window. The memory sliding window records
// only allowed calls. The redis fixed window counts every call, refused ones
// included, which cannot stretch the window past its fixed end.
type Limiter interface {
	CheckAndConsume(ctx context.Context, callerKey, action string, maxAttempts int, window time.Duration) (Decision, error)
}

// allowAll is the Decision for rules that never limit.
func allowAll(maxAttempts int) Decision {
	return Decision{Allowed: true, Remaining: maxAttempts}
}
