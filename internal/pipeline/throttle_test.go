package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_FirstAttemptNeverWaits(t *testing.T) {
	th := Throttle{Delay: time.Hour}

	start := time.Now()
	assert.NoError(t, th.Wait(context.Background(), 0))
	assert.Less(t, time.Since(start), time.Second)
}

func TestThrottle_ZeroDelay(t *testing.T) {
	called := false
	th := Throttle{sleep: func(context.Context, time.Duration) error {
		called = true
		return nil
	}}

	assert.NoError(t, th.Wait(context.Background(), 5))
	assert.False(t, called)
}

func TestThrottle_WaitsDelay(t *testing.T) {
	th := Throttle{Delay: 20 * time.Millisecond}

	start := time.Now()
	assert.NoError(t, th.Wait(context.Background(), 1))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestThrottle_CancelEndsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	th := Throttle{Delay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := th.Wait(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestThrottle_DeadlineEndsWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := Throttle{Delay: time.Hour}.Wait(ctx, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
