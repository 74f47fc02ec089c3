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
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/pkg/otelcol"
	"smallbiznis-licensing/pkg/profiling"
	"smallbiznis-licensing/pkg/redis"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/bootstrap"
	"smallbiznis-licensing/services/seat"
	"smallbiznis-licensing/services/sweeper"
)

// The worker runs the periodic stale-seat sweep through asynq. Deploy it
// with SWEEP_WORKER=true on the API so both agree on who sweeps.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		clock.Module,
		gen.Module,
		db.Module,
		redis.Module,
		otelcol.Module,
		profiling.Module,
		audit.Module,
		bootstrap.Module,
		seat.Module,
		asynq.Server,
		asynq.Scheduler,
		sweeper.WorkerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
