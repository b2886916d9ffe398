package snapshot

import (
	"github.com/volatiq/exchange-core/pkg/market"
)

// Derived snapshot fields. Each derivation is guarded so a missing upstream
// field degrades to the pre-populated default instead of surfacing an error.

func (a *Aggregator) applyDerived(snap *market.Snapshot, riskTiers []market.RiskLimitTier) {
	// Buy/sell volume split from recent trades.
	if snap.Meta.Trades && len(snap.Trades) > 0 {
		var split market.VolumeSplit
		for _, t := range snap.Trades {
			if t.Side == "Buy" {
				split.Buy += t.Size
			} else {
				split.Sell += t.Size
			}
			split.Total += t.Size
		}
		snap.Volume = split
	}

	// Funding rate comes from the ticker payload.
	if snap.Meta.Ticker {
		snap.Sentiment.FundingRate = snap.Ticker.FundingRate
	}

	// Risk-limit summary and market mood.
	if snap.Meta.RiskLimit && len(riskTiers) > 0 {
		lowest := pickLowestRisk(riskTiers)
		snap.RiskLimit = market.RiskLimit{
			Tiers:      len(riskTiers),
			Lowest:     lowest,
			MarketMood: moodForLeverage(lowest.MaxLeverage),
		}
	}
}

// pickLowestRisk selects the tier the exchange flags as lowest risk. When
// several entries carry the flag the first in exchange order wins; when none
// does, the first entry is the fallback.
func pickLowestRisk(tiers []market.RiskLimitTier) market.RiskLimitTier {
	for _, t := range tiers {
		if t.IsLowestRisk {
			return t
		}
	}
	return tiers[0]
}

// moodForLeverage maps the lowest tier's max leverage to a coarse mood
// label. High available leverage marks a market the exchange treats as
// liquid enough for speculation.
func moodForLeverage(maxLeverage float64) string {
	switch {
	case maxLeverage >= 50:
		return "speculative"
	case maxLeverage >= 25:
		return "balanced"
	case maxLeverage > 0:
		return "conservative"
	default:
		return market.MoodNeutral
	}
}
