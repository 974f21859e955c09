package game

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
)

// InputSource produces the local input word for the current tick.
type InputSource func() sim.Input

// Loop paces a driver at a fixed tick rate. Back-pressure is inherent: a
// suspended session makes the tick a no-op and the next tick arrives on
// schedule regardless.
type Loop struct {
	driver  *Driver
	limiter *rate.Limiter
	input   InputSource
}

// NewLoop creates a loop at tickRate Hz. A nil input source reads as zero.
func NewLoop(d *Driver, tickRate int, input InputSource) *Loop {
	if tickRate <= 0 {
		tickRate = 60
	}
	if input == nil {
		input = func() sim.Input { return 0 }
	}
	return &Loop{
		driver:  d,
		limiter: rate.NewLimiter(rate.Limit(tickRate), 1),
		input:   input,
	}
}

// Run ticks the driver until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		l.driver.Tick(time.Now(), l.input())
	}
}
