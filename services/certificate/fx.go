package certificate

import (
	"smallbiznis-licensing/services/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("certificate.module",
	fx.Provide(
		LoadKeyRing,
		NewArchive,
		NewService,
		NewHandler,
	),
)

var ServerModule = fx.Module("certificate.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, guard *ratelimit.Guard, h *Handler) {
	certs := r.Group("/v1/certificates")
	certs.GET("/keys", h.Keys)
	certs.POST("/sequence", guard.For(ratelimit.ActionSequence), h.NextSequence)
	certs.POST("", guard.For(ratelimit.ActionSequence), h.Issue)
	certs.POST("/sync", guard.For(ratelimit.ActionSync), h.Sync)
	certs.POST("/verify", guard.For(ratelimit.ActionVerify), h.BatchVerify)
	certs.GET("/:id/verify", guard.For(ratelimit.ActionVerify), h.Verify)
}
