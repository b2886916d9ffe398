package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer(t *testing.T) {
	t.Run("SpacesOperations", func(t *testing.T) {
		p := NewPacer(Rate{Limit: 100, Interval: time.Second})

		start := time.Now()
		for i := 0; i < 5; i++ {
			require.NoError(t, p.Wait(context.Background()))
		}
		// 5 ops at 100/s need at least 40ms of spacing after the first.
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		p := NewPacer(DefaultControlRate())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.Error(t, p.Wait(ctx))
	})

	t.Run("CancelledMidWait", func(t *testing.T) {
		p := NewPacer(Rate{Limit: 1, Interval: time.Second})
		require.NoError(t, p.Wait(context.Background()))

		// The second wait at 1 op/s would block close to a second; the
		// deadline must cut it short.
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := p.Wait(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("SetRate", func(t *testing.T) {
		p := NewPacer(DefaultControlRate())
		require.NoError(t, p.SetRate(Rate{Limit: 50, Interval: time.Second}))
		assert.Error(t, p.SetRate(Rate{}))
	})

	t.Run("SubUnitRateClampedUp", func(t *testing.T) {
		assert.Equal(t, 1, opsPerSecond(Rate{Limit: 1, Interval: time.Minute}))
		assert.Equal(t, 10, opsPerSecond(Rate{Limit: 10, Interval: time.Second}))
	})
}
