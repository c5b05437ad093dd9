package timing

import (
	"context"
	"time"
)

// Sleeper abstracts blocking waits so the behavior engine and the serial
// channel can be tested without wall-clock sleeps. Implementations must
// return promptly with ctx.Err() when the context is canceled; this is the
// cooperative cancellation point for every wait in the system.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper waits on a timer and the context simultaneously, so a stop
// request interrupts a wait immediately rather than at the next cycle
// boundary.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
