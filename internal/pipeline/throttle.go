package pipeline

import (
	"context"
	"time"
)

// Throttle spaces remote writes by a fixed delay. Attempts are numbered from
// zero in the order they reach the remote service; attempt 0 never waits.
type Throttle struct {
	Delay time.Duration

	// sleep replaces the timer in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Wait blocks before the given attempt. It returns ctx's error if ctx ends
// first; no other goroutine is held up.
func (t Throttle) Wait(ctx context.Context, attempt int) error {
	if attempt == 0 || t.Delay <= 0 {
		return nil
	}
	if t.sleep != nil {
		return t.sleep(ctx, t.Delay)
	}
	return sleepContext(ctx, t.Delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
