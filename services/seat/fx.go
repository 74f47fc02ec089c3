package seat

import (
	"smallbiznis-licensing/services/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("seat.module",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

var ServerModule = fx.Module("seat.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, guard *ratelimit.Guard, h *Handler) {
	seats := r.Group("/v1/seats")
	seats.POST("/acquire", guard.For(ratelimit.ActionAcquire), h.Acquire)
	seats.POST("/heartbeat", guard.For(ratelimit.ActionHeartbeat), h.Heartbeat)
	seats.POST("/release", guard.For(ratelimit.ActionRelease), h.Release)
	seats.POST("/force-terminate", guard.For(ratelimit.ActionForceTerminate), h.ForceTerminate)
	seats.GET("/status/:licenseId", h.Status)

	sessions := r.Group("/v1/sessions")
	sessions.POST("/start", guard.For(ratelimit.ActionAcquire), h.StartSession)
	sessions.POST("/heartbeat", guard.For(ratelimit.ActionHeartbeat), h.Heartbeat)
	sessions.POST("/end", guard.For(ratelimit.ActionRelease), h.Release)
	sessions.POST("/force-end", guard.For(ratelimit.ActionForceTerminate), h.ForceTerminate)
	sessions.GET("/status/:licenseId", h.Status)
}
