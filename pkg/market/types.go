// Package market defines the typed data model shared by the REST, stream and
// aggregation layers: the endpoint enumeration, the error taxonomy, wire
// decoding for the exchange's response envelope payloads, and the
// MarketSnapshot aggregate that downstream consumers read.
//
// Everything crossing the process boundary is decoded exactly once, here,
// into plain structs. Downstream code never re-checks key presence; a field
// that could not be fetched holds its documented neutral default and the
// snapshot's Meta flags record the miss.
package market

// Ticker is the current market statistics for one symbol.
type Ticker struct {
	Symbol          string
	LastPrice       float64
	Bid             float64
	Ask             float64
	High24h         float64
	Low24h          float64
	Volume24h       float64
	Turnover24h     float64
	Change24hPcnt   float64
	FundingRate     float64
	OpenInterest    float64
	NextFundingTime int64
}

// OrderBookLevel is a single price level.
type OrderBookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a depth snapshot. Bids descend by price, asks ascend.
type OrderBook struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp int64
}

// Trade is one public execution.
type Trade struct {
	Price float64
	Size  float64
	Side  string // "Buy" or "Sell"
	Time  int64
}

// Candle is one OHLCV bar. Start is the bar open time in epoch milliseconds.
type Candle struct {
	Start    int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Turnover float64
}

// LongShortRatio is the account long/short split in percent. Long and Short
// always sum to 100; the neutral default is 50/50.
type LongShortRatio struct {
	Long      float64
	Short     float64
	Timestamp int64
}

// RiskLimitTier is one entry of the symbol's risk-limit ladder.
type RiskLimitTier struct {
	ID                int
	RiskLimitValue    float64
	MaintenanceMargin float64
	InitialMargin     float64
	MaxLeverage       float64
	IsLowestRisk      bool
}

// OpenInterestPoint is one open-interest observation.
type OpenInterestPoint struct {
	Value     float64
	Timestamp int64
}

// OpenInterest bundles the current reading with recent history. History is
// ordered newest first, matching the exchange's response ordering.
type OpenInterest struct {
	Current  float64
	Previous float64
	History  []OpenInterestPoint
}

// Volatility is realized volatility computed from the base timeframe.
// Trend is one of "rising", "falling" or "flat".
type Volatility struct {
	Value  float64
	Trend  string
	Window int
}

// Sentiment groups the positioning-related snapshot fields.
type Sentiment struct {
	LongShortRatio LongShortRatio
	FundingRate    float64
	OpenInterest   OpenInterest
	Volatility     Volatility
}

// VolumeSplit is the buy/sell breakdown derived from recent trades.
type VolumeSplit struct {
	Buy   float64
	Sell  float64
	Total float64
}

// RiskLimit summarizes the symbol's risk-limit ladder. Lowest is the tier
// flagged lowest-risk by the exchange; when several entries carry the flag
// the first in exchange order wins, and when none does the first entry is
// used.
type RiskLimit struct {
	Tiers      int
	Lowest     RiskLimitTier
	MarketMood string
}

// Timeframe names the kline intervals the aggregator fetches. Values are the
// exchange's interval codes (minutes).
type Timeframe string

const (
	TimeframeBase Timeframe = "15"
	TimeframeLTF  Timeframe = "5"
	TimeframeMTF  Timeframe = "60"
	TimeframeHTF  Timeframe = "240"
)

// Timeframes returns the fetched intervals in fetch order.
func Timeframes() []Timeframe {
	return []Timeframe{TimeframeBase, TimeframeLTF, TimeframeMTF, TimeframeHTF}
}

// Meta records, per snapshot field, whether real data was fetched (true) or
// the neutral default was substituted (false).
type Meta struct {
	Ticker         bool
	OrderBook      bool
	Trades         bool
	LongShortRatio bool
	RiskLimit      bool
	OpenInterest   bool
	Volatility     bool
	Candles        map[Timeframe]bool
}

// Snapshot is the aggregate market view for one symbol. A Snapshot is always
// structurally complete: every field holds either fetched data or its
// neutral default, so consumers never nil-check. It is created fresh per
// fetch and must not be mutated after being returned.
type Snapshot struct {
	Symbol    string
	Timestamp int64
	Ticker    Ticker
	OrderBook OrderBook
	Trades    []Trade
	Sentiment Sentiment
	Volume    VolumeSplit
	Candles   map[Timeframe][]Candle
	RiskLimit RiskLimit
	Meta      Meta
}

// MoodNeutral is the market-mood default when risk-limit data is missing.
const MoodNeutral = "neutral"

// NewSnapshot builds a snapshot with the full default structure: empty but
// non-nil collections, a 50/50 long/short split, flat volatility and a
// neutral mood. Sub-fetch results overwrite individual fields afterwards;
// anything left untouched is already a valid neutral value.
func NewSnapshot(symbol string, timestampMs int64) *Snapshot {
	s := &Snapshot{
		Symbol:    symbol,
		Timestamp: timestampMs,
		Ticker:    Ticker{Symbol: symbol},
		OrderBook: OrderBook{
			Symbol: symbol,
			Bids:   []OrderBookLevel{},
			Asks:   []OrderBookLevel{},
		},
		Trades: []Trade{},
		Sentiment: Sentiment{
			LongShortRatio: NeutralLongShortRatio(),
			OpenInterest:   OpenInterest{History: []OpenInterestPoint{}},
			Volatility:     Volatility{Trend: "flat"},
		},
		Candles:   make(map[Timeframe][]Candle, len(Timeframes())),
		RiskLimit: RiskLimit{MarketMood: MoodNeutral},
		Meta:      Meta{Candles: make(map[Timeframe]bool, len(Timeframes()))},
	}
	for _, tf := range Timeframes() {
		s.Candles[tf] = []Candle{}
		s.Meta.Candles[tf] = false
	}
	return s
}

// NeutralLongShortRatio is the 50/50 default. Zero values would bias
// downstream scoring, so missing or unparsable ratios always map here.
func NeutralLongShortRatio() LongShortRatio {
	return LongShortRatio{Long: 50.0, Short: 50.0}
}

// EnsureComplete re-initializes any nil collection so that a snapshot is
// structurally valid even if a field was overwritten with a partial value.
// Called once by the aggregator before the snapshot is returned.
func (s *Snapshot) EnsureComplete() {
	if s.OrderBook.Bids == nil {
		s.OrderBook.Bids = []OrderBookLevel{}
	}
	if s.OrderBook.Asks == nil {
		s.OrderBook.Asks = []OrderBookLevel{}
	}
	if s.Trades == nil {
		s.Trades = []Trade{}
	}
	if s.Sentiment.OpenInterest.History == nil {
		s.Sentiment.OpenInterest.History = []OpenInterestPoint{}
	}
	if s.Sentiment.LongShortRatio.Long <= 0 && s.Sentiment.LongShortRatio.Short <= 0 {
		s.Sentiment.LongShortRatio = NeutralLongShortRatio()
	}
	if s.Sentiment.Volatility.Trend == "" {
		s.Sentiment.Volatility.Trend = "flat"
	}
	if s.RiskLimit.MarketMood == "" {
		s.RiskLimit.MarketMood = MoodNeutral
	}
	if s.Candles == nil {
		s.Candles = make(map[Timeframe][]Candle, len(Timeframes()))
	}
	if s.Meta.Candles == nil {
		s.Meta.Candles = make(map[Timeframe]bool, len(Timeframes()))
	}
	for _, tf := range Timeframes() {
		if s.Candles[tf] == nil {
			s.Candles[tf] = []Candle{}
		}
		if _, ok := s.Meta.Candles[tf]; !ok {
			s.Meta.Candles[tf] = false
		}
	}
}
