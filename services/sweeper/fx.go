package sweeper

import (
	"context"
	"fmt"
	"net/http"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/middleware"
	"smallbiznis-licensing/pkg/taskname"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sweeper",
	fx.Provide(New),
)

// ServerModule runs the sweep loop inside the API process and exposes a
// manual trigger.
var ServerModule = fx.Module("sweeper.server",
	Module,
	fx.Invoke(
		startInProcess,
		RegisterRoutes,
	),
)

// WorkerModule runs sweeps as periodic asynq tasks.
var WorkerModule = fx.Module("sweeper.worker",
	Module,
	fx.Invoke(
		registerTaskHandler,
		registerPeriodicTask,
	),
)

func startInProcess(lc fx.Lifecycle, s *Sweeper) {
	if !s.enabled || s.queued {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

func registerTaskHandler(mux *asynq.ServeMux, s *Sweeper) {
	mux.HandleFunc(TypeSweep, s.HandleSweepTask)
}

func registerPeriodicTask(scheduler *asynq.Scheduler, s *Sweeper) error {
	if !s.enabled {
		return nil
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	id, err := scheduler.Register(spec, asynq.NewTask(TypeSweep, nil),
		asynq.Queue(taskname.QueueMaintenance),
		asynq.Unique(s.interval),
		asynq.MaxRetry(1),
	)
	if err != nil {
		return err
	}
	zap.L().Info("periodic sweep registered", zap.String("entry_id", id), zap.String("spec", spec))
	return nil
}

type routeParams struct {
	fx.In
	Router  *gin.Engine
	Config  *config.Config
	Sweeper *Sweeper
	Client  *asynq.Client `optional:"true"`
}

// RegisterRoutes adds POST /v1/admin/sweep. When sweeps belong to the
// worker the request is queued, otherwise it runs inline.
func RegisterRoutes(p routeParams) {
	p.Router.POST("/v1/admin/sweep", middleware.AdminKey(p.Config.Admin.APIKey), func(c *gin.Context) {
		if p.Client != nil && p.Sweeper.queued {
			info, err := p.Client.EnqueueContext(c.Request.Context(), asynq.NewTask(TypeSweep, nil), asynq.Queue(taskname.QueueMaintenance))
			if err != nil {
				_ = c.Error(errutil.ServiceUnavailable("failed to enqueue sweep", err))
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"taskId": info.ID})
			return
		}

		res, err := p.Sweeper.RunOnce(c.Request.Context())
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}
