package market

import (
	"encoding/json"
	"strconv"
)

// Wire decoding for the exchange's /v5/market payloads. The exchange encodes
// every numeric field as a string; decoding tolerates empty strings (mapped
// to zero) but a payload whose overall shape is unrecognizable yields a
// KindMalformed error so the caller substitutes defaults.

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type tickerWire struct {
	List []struct {
		Symbol          string `json:"symbol"`
		LastPrice       string `json:"lastPrice"`
		Bid1Price       string `json:"bid1Price"`
		Ask1Price       string `json:"ask1Price"`
		HighPrice24h    string `json:"highPrice24h"`
		LowPrice24h     string `json:"lowPrice24h"`
		Volume24h       string `json:"volume24h"`
		Turnover24h     string `json:"turnover24h"`
		Price24hPcnt    string `json:"price24hPcnt"`
		FundingRate     string `json:"fundingRate"`
		OpenInterest    string `json:"openInterest"`
		NextFundingTime string `json:"nextFundingTime"`
	} `json:"list"`
}

// ParseTicker decodes a /v5/market/tickers result payload.
func ParseTicker(raw json.RawMessage) (Ticker, error) {
	var w tickerWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Ticker{}, NewError(KindMalformed, EndpointTicker, "decoding ticker list", err)
	}
	if len(w.List) == 0 {
		return Ticker{}, NewError(KindMalformed, EndpointTicker, "empty ticker list", ErrMalformedResponse)
	}
	t := w.List[0]
	return Ticker{
		Symbol:          t.Symbol,
		LastPrice:       parseFloat(t.LastPrice),
		Bid:             parseFloat(t.Bid1Price),
		Ask:             parseFloat(t.Ask1Price),
		High24h:         parseFloat(t.HighPrice24h),
		Low24h:          parseFloat(t.LowPrice24h),
		Volume24h:       parseFloat(t.Volume24h),
		Turnover24h:     parseFloat(t.Turnover24h),
		Change24hPcnt:   parseFloat(t.Price24hPcnt),
		FundingRate:     parseFloat(t.FundingRate),
		OpenInterest:    parseFloat(t.OpenInterest),
		NextFundingTime: parseInt(t.NextFundingTime),
	}, nil
}

type orderBookWire struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	Ts     int64       `json:"ts"`
}

// ParseOrderBook decodes a /v5/market/orderbook result payload.
func ParseOrderBook(raw json.RawMessage) (OrderBook, error) {
	var w orderBookWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return OrderBook{}, NewError(KindMalformed, EndpointOrderBook, "decoding orderbook", err)
	}
	if w.Symbol == "" {
		return OrderBook{}, NewError(KindMalformed, EndpointOrderBook, "missing symbol", ErrMalformedResponse)
	}
	book := OrderBook{
		Symbol:    w.Symbol,
		Bids:      make([]OrderBookLevel, 0, len(w.Bids)),
		Asks:      make([]OrderBookLevel, 0, len(w.Asks)),
		Timestamp: w.Ts,
	}
	for _, lvl := range w.Bids {
		book.Bids = append(book.Bids, OrderBookLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	for _, lvl := range w.Asks {
		book.Asks = append(book.Asks, OrderBookLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	return book, nil
}

type tradesWire struct {
	List []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
		Side  string `json:"side"`
		Time  string `json:"time"`
	} `json:"list"`
}

// ParseTrades decodes a /v5/market/recent-trade result payload.
func ParseTrades(raw json.RawMessage) ([]Trade, error) {
	var w tradesWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, NewError(KindMalformed, EndpointTrades, "decoding trade list", err)
	}
	trades := make([]Trade, 0, len(w.List))
	for _, t := range w.List {
		trades = append(trades, Trade{
			Price: parseFloat(t.Price),
			Size:  parseFloat(t.Size),
			Side:  t.Side,
			Time:  parseInt(t.Time),
		})
	}
	return trades, nil
}

type klineWire struct {
	List [][]string `json:"list"`
}

// ParseCandles decodes a /v5/market/kline result payload. The exchange
// returns bars newest first; the order is preserved. Rows shorter than the
// seven expected columns are skipped rather than failing the whole series.
func ParseCandles(raw json.RawMessage) ([]Candle, error) {
	var w klineWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, NewError(KindMalformed, EndpointKline, "decoding kline list", err)
	}
	candles := make([]Candle, 0, len(w.List))
	for _, row := range w.List {
		if len(row) < 7 {
			continue
		}
		candles = append(candles, Candle{
			Start:    parseInt(row[0]),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
			Turnover: parseFloat(row[6]),
		})
	}
	return candles, nil
}

type accountRatioWire struct {
	List []struct {
		BuyRatio  string `json:"buyRatio"`
		SellRatio string `json:"sellRatio"`
		Timestamp string `json:"timestamp"`
	} `json:"list"`
}

// ParseLongShortRatio decodes a /v5/market/account-ratio result payload.
// A response without a recognizable entry, or with non-positive ratios,
// yields the neutral 50/50 split together with a KindMalformed error so the
// caller can record the miss.
func ParseLongShortRatio(raw json.RawMessage) (LongShortRatio, error) {
	var w accountRatioWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return NeutralLongShortRatio(), NewError(KindMalformed, EndpointLongShortRatio, "decoding account ratio", err)
	}
	if len(w.List) == 0 {
		return NeutralLongShortRatio(), NewError(KindMalformed, EndpointLongShortRatio, "empty ratio list", ErrMalformedResponse)
	}
	entry := w.List[0]
	long := parseFloat(entry.BuyRatio)
	short := parseFloat(entry.SellRatio)
	if long <= 0 || short <= 0 {
		return NeutralLongShortRatio(), NewError(KindMalformed, EndpointLongShortRatio, "non-positive ratio values", ErrMalformedResponse)
	}
	// Ratios arrive as fractions summing to 1; expose them as percentages.
	return LongShortRatio{
		Long:      long * 100,
		Short:     short * 100,
		Timestamp: parseInt(entry.Timestamp),
	}, nil
}

type riskLimitWire struct {
	List []struct {
		ID                int    `json:"id"`
		RiskLimitValue    string `json:"riskLimitValue"`
		MaintenanceMargin string `json:"maintenanceMargin"`
		InitialMargin     string `json:"initialMargin"`
		MaxLeverage       string `json:"maxLeverage"`
		IsLowestRisk      int    `json:"isLowestRisk"`
	} `json:"list"`
}

// ParseRiskLimits decodes a /v5/market/risk-limit result payload.
func ParseRiskLimits(raw json.RawMessage) ([]RiskLimitTier, error) {
	var w riskLimitWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, NewError(KindMalformed, EndpointRiskLimit, "decoding risk limit list", err)
	}
	if len(w.List) == 0 {
		return nil, NewError(KindMalformed, EndpointRiskLimit, "empty risk limit list", ErrMalformedResponse)
	}
	tiers := make([]RiskLimitTier, 0, len(w.List))
	for _, t := range w.List {
		tiers = append(tiers, RiskLimitTier{
			ID:                t.ID,
			RiskLimitValue:    parseFloat(t.RiskLimitValue),
			MaintenanceMargin: parseFloat(t.MaintenanceMargin),
			InitialMargin:     parseFloat(t.InitialMargin),
			MaxLeverage:       parseFloat(t.MaxLeverage),
			IsLowestRisk:      t.IsLowestRisk == 1,
		})
	}
	return tiers, nil
}

type openInterestWire struct {
	List []struct {
		OpenInterest string `json:"openInterest"`
		Timestamp    string `json:"timestamp"`
	} `json:"list"`
}

// ParseOpenInterest decodes a /v5/market/open-interest result payload into
// history points, newest first.
func ParseOpenInterest(raw json.RawMessage) ([]OpenInterestPoint, error) {
	var w openInterestWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, NewError(KindMalformed, EndpointOpenInterest, "decoding open interest list", err)
	}
	points := make([]OpenInterestPoint, 0, len(w.List))
	for _, p := range w.List {
		points = append(points, OpenInterestPoint{
			Value:     parseFloat(p.OpenInterest),
			Timestamp: parseInt(p.Timestamp),
		})
	}
	return points, nil
}
