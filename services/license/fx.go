package license

import (
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("license.module",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

var ServerModule = fx.Module("license.server",
	Module,
	fx.Invoke(RegisterRoutes),
)

func RegisterRoutes(r *gin.Engine, cfg *config.Config, h *Handler) {
	admin := r.Group("/v1/licenses", middleware.AdminKey(cfg.Admin.APIKey))
	admin.POST("", h.Create)
	admin.GET("", h.List)
	admin.GET("/:id", h.Get)
	admin.POST("/:id/revoke", h.Revoke)
}
