// Package sweeper proactively ends stale seats and drops idle rate-limit
// buckets. Acquisition reclaims stale seats by itself, so nothing depends on
// a sweep having run.
package sweeper

import (
	"context"
	"time"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/taskname"
	"smallbiznis-licensing/services/ratelimit"
	"smallbiznis-licensing/services/seat"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TypeSweep = taskname.MaintenanceSweep

type Result struct {
	Seats   int `json:"seats"`
	Buckets int `json:"buckets"`
}

// seatSweeper is the part of the seat service a sweep needs.
type seatSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type bucketCleaner interface {
	Cleanup() int
}

type Sweeper struct {
	seats    seatSweeper
	limiter  ratelimit.Limiter
	clock    clock.Clock
	interval time.Duration
	enabled  bool
	// queued hands sweeps to the asynq worker instead of the API process
	queued bool

	cancel context.CancelFunc
	done   chan struct{}
}

type Params struct {
	fx.In
	Seats   *seat.Service
	Limiter ratelimit.Limiter `optional:"true"`
	Clock   clock.Clock
	Config  *config.Config
}

func New(p Params) *Sweeper {
	interval := p.Config.Sweep.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		seats:    p.Seats,
		limiter:  p.Limiter,
		clock:    p.Clock,
		interval: interval,
		enabled:  p.Config.Sweep.Enabled,
		queued:   p.Config.Sweep.Worker,
	}
}

// RunOnce performs one sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	n, err := s.seats.Sweep(ctx)
	res.Seats = n
	if err != nil {
		return res, err
	}

	if c, ok := s.limiter.(bucketCleaner); ok {
		res.Buckets = c.Cleanup()
	}
	return res, nil
}

// HandleSweepTask runs a sweep enqueued through asynq.
func (s *Sweeper) HandleSweepTask(ctx context.Context, _ *asynq.Task) error {
	res, err := s.RunOnce(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("sweep task finished", zap.Int("seats", res.Seats), zap.Int("buckets", res.Buckets))
	return nil
}

// Start runs RunOnce every interval until Stop.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.Ticker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()

		zap.L().Info("sweeper started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := s.clock.Now()
				res, err := s.RunOnce(ctx)
				if err != nil {
					zap.L().Error("sweep failed", zap.Error(err))
					continue
				}
				zap.L().Info("sweep finished",
					zap.Int("seats", res.Seats),
					zap.Int("buckets", res.Buckets),
					zap.Duration("duration", s.clock.Now().Sub(start)),
				)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
