package snapshot

import (
	"math"

	"github.com/volatiq/exchange-core/pkg/market"
)

// barsPerYear for the base timeframe's annualization factor.
var barsPerYear = map[market.Timeframe]float64{
	market.TimeframeLTF:  365 * 24 * 12,
	market.TimeframeBase: 365 * 24 * 4,
	market.TimeframeMTF:  365 * 24,
	market.TimeframeHTF:  365 * 6,
}

// applyVolatility computes annualized realized volatility from the base
// timeframe candles. With fewer than three bars there is nothing to measure
// and the flat default stands.
func (a *Aggregator) applyVolatility(snap *market.Snapshot) {
	candles := snap.Candles[market.TimeframeBase]
	if !snap.Meta.Candles[market.TimeframeBase] || len(candles) < 3 {
		return
	}

	// Exchange order is newest first; returns are computed chronologically.
	returns := make([]float64, 0, len(candles)-1)
	for i := len(candles) - 1; i > 0; i-- {
		prev := candles[i].Close
		next := candles[i-1].Close
		if prev <= 0 || next <= 0 {
			continue
		}
		returns = append(returns, math.Log(next/prev))
	}
	if len(returns) < 2 {
		return
	}

	value := stddev(returns) * math.Sqrt(barsPerYear[market.TimeframeBase])

	// Trend compares the recent half of the return series against the
	// older half.
	half := len(returns) / 2
	older := stddev(returns[:half])
	recent := stddev(returns[half:])
	trend := "flat"
	if older > 0 {
		switch ratio := recent / older; {
		case ratio > 1.1:
			trend = "rising"
		case ratio < 0.9:
			trend = "falling"
		}
	}

	snap.Sentiment.Volatility = market.Volatility{
		Value:  value,
		Trend:  trend,
		Window: len(returns),
	}
	snap.Meta.Volatility = true
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance)
}
