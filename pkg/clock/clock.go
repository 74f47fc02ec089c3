// Package clock provides the process clock. Services take a clock.Clock so
// tests can drive staleness and expiry with a mock.
package clock

import (
	"github.com/facebookgo/clock"
	"go.uber.org/fx"
)

type Clock = clock.Clock

var Module = fx.Module("clock", fx.Provide(New))

func New() Clock {
	return clock.New()
}
