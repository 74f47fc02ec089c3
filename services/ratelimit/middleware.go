package ratelimit

import (
	"math"
	"strconv"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var rateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "licensing_rate_limit_denials_total",
	Help: "Requests refused by the rate limiter, by action.",
}, []string{"action"})

// Guard builds per-action gin middleware from the configured rules.
type Guard struct {
	limiter Limiter
	rules   map[string]config.RateRule
}

func NewGuard(limiter Limiter, cfg *config.Config) *Guard {
	rl := cfg.RateLimit
	return &Guard{
		limiter: limiter,
		rules: map[string]config.RateRule{
			ActionAcquire:        rl.Acquire,
			ActionHeartbeat:      rl.Heartbeat,
			ActionRelease:        rl.Release,
			ActionForceTerminate: rl.ForceTerminate,
			ActionSequence:       rl.Sequence,
			ActionSync:           rl.Sync,
			ActionVerify:         rl.Verify,
		},
	}
}

// For returns middleware limiting action per client address. Limiter
// failures let the request through.
func (g *Guard) For(action string) gin.HandlerFunc {
	rule := g.rules[action]
	return func(c *gin.Context) {
		d, err := g.limiter.CheckAndConsume(c.Request.Context(), c.ClientIP(), action, rule.MaxAttempts, rule.Window)
		if err != nil {
			zap.L().Warn("rate limiter unavailable", zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}

		if !d.Allowed {
			rateLimitDenials.WithLabelValues(action).Inc()
			retryAfter := int64(math.Ceil(d.RetryAfter.Seconds()))
			_ = c.Error(errutil.TooManyRequest("too many requests", ErrRateLimited,
				errutil.WithRetryAfter(d.RetryAfter),
				errutil.WithMeta(map[string]any{"action": action, "retryAfterSeconds": retryAfter}),
			))
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}
