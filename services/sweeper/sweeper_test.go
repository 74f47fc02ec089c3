package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"smallbiznis-licensing/services/ratelimit"

	fbclock "github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSeats struct {
	calls atomic.Int32
	n     int
	err   error
}

func (f *fakeSeats) Sweep(context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func TestRunOnceSweepsSeatsAndBuckets(t *testing.T) {
	mock := fbclock.NewMock()
	limiter := ratelimit.NewMemoryLimiter(mock)
	_, err := limiter.CheckAndConsume(context.Background(), "10.0.0.1", ratelimit.ActionAcquire, 5, time.Minute)
	require.NoError(t, err)
	mock.Add(2 * time.Minute)

	seats := &fakeSeats{n: 3}
	s := &Sweeper{seats: seats, limiter: limiter, clock: mock, interval: time.Hour}

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Seats: 3, Buckets: 1}, res)
}

func TestRunOnceReportsSeatFailure(t *testing.T) {
	s := &Sweeper{seats: &fakeSeats{err: errors.New("db down")}, clock: fbclock.NewMock(), interval: time.Hour}

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Error(t, s.HandleSweepTask(context.Background(), nil))
}

func TestStartSweepsEveryInterval(t *testing.T) {
	mock := fbclock.NewMock()
	seats := &fakeSeats{}
	s := &Sweeper{seats: seats, clock: mock, interval: time.Hour}

	s.Start()
	defer s.Stop()

	mock.Add(time.Hour)
	require.Eventually(t, func() bool { return seats.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(time.Hour)
	require.Eventually(t, func() bool { return seats.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}
