package health

import (
	"context"
	"net/http"
	"time"

	"smallbiznis-licensing/pkg/clock"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(runProbe),
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

const probeInterval = 10 * time.Second

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
	Check(ctx context.Context) *Health
}

type health struct {
	db    *gorm.DB
	redis *redis.Client
	vault *vault.Client
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	return &health{
		db:    p.DB,
		redis: p.Redis,
		vault: p.Vault,
	}
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  StatusHealthy,
		Message: "OK",
	})
}

func (h *health) Readiness(c *gin.Context) {
	res := h.Check(c.Request.Context())
	code := http.StatusOK
	if res.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, res)
}

// Check pings every configured dependency. One failing dependency makes the
// whole node unhealthy.
func (h *health) Check(ctx context.Context) *Health {
	res := &Health{
		Status:  StatusHealthy,
		Message: "OK",
	}

	record := func(name string, err error) {
		dep := Dependency{Name: name, Status: StatusHealthy, Message: "OK"}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			res.Status = StatusUnhealthy
			res.Message = "dependency unavailable"
		}
		res.Deps = append(res.Deps, dep)
	}

	if h.db != nil {
		sql, err := h.db.DB()
		if err == nil {
			err = sql.PingContext(ctx)
		}
		record(h.db.Name(), err)
	}

	if h.redis != nil {
		record("redis", h.redis.Ping(ctx).Err())
	}

	if h.vault != nil {
		_, err := h.vault.System.ReadHealthStatus(ctx)
		record("vault", err)
	}

	return res
}

type probeParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Health    HealthService
	Clock     clock.Clock
	GRPC      *grpchealth.Server `optional:"true"`
}

// runProbe keeps the grpc.health.v1 serving status in step with Check.
func runProbe(p probeParams) {
	if p.GRPC == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	update := func() {
		checkCtx, done := context.WithTimeout(ctx, probeInterval/2)
		defer done()

		status := healthpb.HealthCheckResponse_SERVING
		if res := p.Health.Check(checkCtx); res.Status != StatusHealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			zap.L().Warn("readiness probe failing", zap.Any("deps", res.Deps))
		}
		p.GRPC.SetServingStatus("", status)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := p.Clock.Ticker(probeInterval)
				defer ticker.Stop()

				update()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						update()
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
