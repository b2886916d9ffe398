package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiquidationBuffer(t *testing.T) {
	base := time.UnixMilli(1700000000000)

	newBuffer := func(retention time.Duration, now time.Time) (*LiquidationBuffer, *time.Time) {
		b := NewLiquidationBuffer(retention)
		clock := now
		b.now = func() time.Time { return clock }
		return b, &clock
	}

	t.Run("AddAndRead", func(t *testing.T) {
		b, _ := newBuffer(time.Hour, base)
		b.Add(LiquidationEvent{Symbol: "BTCUSDT", Side: "Sell", Size: 1.5, Price: 43000, Timestamp: base.UnixMilli()})
		b.Add(LiquidationEvent{Symbol: "ETHUSDT", Side: "Buy", Size: 10, Price: 2300, Timestamp: base.UnixMilli()})

		events := b.Events("BTCUSDT")
		require.Len(t, events, 1)
		assert.Equal(t, 1.5, events[0].Size)
		assert.Equal(t, 1, b.Len("ETHUSDT"))
		assert.Empty(t, b.Events("SOLUSDT"))
	})

	t.Run("PrunesAgedEvents", func(t *testing.T) {
		b, clock := newBuffer(time.Hour, base)
		b.Add(LiquidationEvent{Symbol: "BTCUSDT", Timestamp: base.UnixMilli()})

		// Two hours later the first event has aged out; the insert prunes it.
		*clock = base.Add(2 * time.Hour)
		b.Add(LiquidationEvent{Symbol: "BTCUSDT", Timestamp: clock.UnixMilli()})

		events := b.Events("BTCUSDT")
		require.Len(t, events, 1)
		assert.Equal(t, clock.UnixMilli(), events[0].Timestamp)
	})

	t.Run("EventsReturnsCopy", func(t *testing.T) {
		b, _ := newBuffer(time.Hour, base)
		b.Add(LiquidationEvent{Symbol: "BTCUSDT", Size: 1, Timestamp: base.UnixMilli()})
		events := b.Events("BTCUSDT")
		events[0].Size = 999
		assert.Equal(t, 1.0, b.Events("BTCUSDT")[0].Size)
	})

	t.Run("NonPositiveRetentionDefaults", func(t *testing.T) {
		b := NewLiquidationBuffer(0)
		assert.Equal(t, DefaultLiquidationRetention, b.retention)
	})
}
