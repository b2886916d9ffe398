package snapshot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/volatiq/exchange-core/pkg/market"
)

func TestStddev(t *testing.T) {
	assert.Zero(t, stddev(nil))
	assert.Zero(t, stddev([]float64{1.0}))
	assert.Zero(t, stddev([]float64{2.0, 2.0, 2.0}))

	// Sample stddev of {2,4,4,4,5,5,7,9} is ~2.138.
	got := stddev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 2.138, got, 0.001)
}

func TestApplyVolatility(t *testing.T) {
	agg := &Aggregator{}

	t.Run("TooFewBarsKeepsDefault", func(t *testing.T) {
		snap := market.NewSnapshot("BTCUSDT", 0)
		snap.Candles[market.TimeframeBase] = []market.Candle{
			{Close: 43000}, {Close: 43100},
		}
		snap.Meta.Candles[market.TimeframeBase] = true

		agg.applyVolatility(snap)
		assert.False(t, snap.Meta.Volatility)
		assert.Zero(t, snap.Sentiment.Volatility.Value)
		assert.Equal(t, "flat", snap.Sentiment.Volatility.Trend)
	})

	t.Run("MissingBaseTimeframeKeepsDefault", func(t *testing.T) {
		snap := market.NewSnapshot("BTCUSDT", 0)
		agg.applyVolatility(snap)
		assert.False(t, snap.Meta.Volatility)
	})

	t.Run("ConstantPricesZeroVolatility", func(t *testing.T) {
		snap := market.NewSnapshot("BTCUSDT", 0)
		snap.Candles[market.TimeframeBase] = []market.Candle{
			{Close: 43000}, {Close: 43000}, {Close: 43000}, {Close: 43000},
		}
		snap.Meta.Candles[market.TimeframeBase] = true

		agg.applyVolatility(snap)
		assert.True(t, snap.Meta.Volatility)
		assert.Zero(t, snap.Sentiment.Volatility.Value)
	})

	t.Run("VaryingPricesAnnualized", func(t *testing.T) {
		snap := market.NewSnapshot("BTCUSDT", 0)
		// Newest first, matching the exchange ordering.
		snap.Candles[market.TimeframeBase] = []market.Candle{
			{Close: 43300}, {Close: 43200}, {Close: 43100},
			{Close: 43150}, {Close: 43000}, {Close: 42900},
		}
		snap.Meta.Candles[market.TimeframeBase] = true

		agg.applyVolatility(snap)
		assert.True(t, snap.Meta.Volatility)
		assert.Greater(t, snap.Sentiment.Volatility.Value, 0.0)
		assert.False(t, math.IsNaN(snap.Sentiment.Volatility.Value))
		assert.Equal(t, 5, snap.Sentiment.Volatility.Window)
		assert.Contains(t, []string{"rising", "falling", "flat"}, snap.Sentiment.Volatility.Trend)
	})

	t.Run("NonPositiveClosesSkipped", func(t *testing.T) {
		snap := market.NewSnapshot("BTCUSDT", 0)
		snap.Candles[market.TimeframeBase] = []market.Candle{
			{Close: 43300}, {Close: 0}, {Close: 43100}, {Close: 43000},
		}
		snap.Meta.Candles[market.TimeframeBase] = true

		agg.applyVolatility(snap)
		// Only one usable return remains; not enough to measure.
		assert.False(t, snap.Meta.Volatility)
	})
}
