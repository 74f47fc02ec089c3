package ratelimit

import (
	"strings"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(
		NewLimiter,
		NewGuard,
	),
)

type Params struct {
	fx.In
	Config *config.Config
	Clock  clock.Clock
	Redis  *redis.Client `optional:"true"`
}

// NewLimiter selects the backend named by RATE_LIMIT.BACKEND.
func NewLimiter(p Params) Limiter {
	if strings.EqualFold(p.Config.RateLimit.Backend, "redis") {
		if p.Redis != nil {
			return NewRedisLimiter(p.Redis, p.Clock)
		}
		zap.L().Warn("redis rate limiter requested without a redis client, using memory")
	}
	return NewMemoryLimiter(p.Clock)
}
