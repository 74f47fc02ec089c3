package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smallbiznis-licensing/pkg/asynq"
	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db"
	"smallbiznis-licensing/pkg/gen"
	"smallbiznis-licensing/pkg/hashistack/secretmanager"
	"smallbiznis-licensing/pkg/health"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/minio"
	"smallbiznis-licensing/pkg/otelcol"
	"smallbiznis-licensing/pkg/profiling"
	"smallbiznis-licensing/pkg/redis"
	"smallbiznis-licensing/pkg/sequence"
	"smallbiznis-licensing/pkg/server"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/bootstrap"
	"smallbiznis-licensing/services/certificate"
	"smallbiznis-licensing/services/license"
	"smallbiznis-licensing/services/ratelimit"
	"smallbiznis-licensing/services/seat"
	"smallbiznis-licensing/services/sweeper"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		clock.Module,
		gen.Module,
		db.Module,
		redis.Module,
		minio.Client,
		asynq.Client,
		otelcol.Module,
		profiling.Module,
		health.Module,
		sequence.Module,
		audit.Module,
		ratelimit.Module,
		bootstrap.Module,
		server.ProvideHTTPServer,
		server.ProvideGRPCServer,
		license.ServerModule,
		seat.ServerModule,
		certificate.ServerModule,
		sweeper.ServerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
