// Package snapshot assembles the aggregate market view for one symbol.
//
// FetchSnapshot fans out the independent sub-fetches concurrently, gates
// each one behind the rate limiter, the circuit breaker and the retry
// executor, and merges whatever succeeded into a snapshot that is always
// structurally complete. A sub-fetch that fails, including one skipped
// because its circuit is open, leaves its pre-populated neutral default in
// place and clears the corresponding Meta flag. Nothing below this boundary
// escapes as an error.
package snapshot

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/volatiq/exchange-core/pkg/breaker"
	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
	"github.com/volatiq/exchange-core/pkg/ratelimit"
	"github.com/volatiq/exchange-core/pkg/rest"
)

// Options tunes the aggregator's sub-fetch parameters.
type Options struct {
	// Category is the market segment ("linear" by default).
	Category string

	// OrderBookDepth is the number of levels requested per side.
	OrderBookDepth int

	// TradeLimit bounds the recent-trades fetch.
	TradeLimit int

	// KlineLimit bounds each timeframe's candle fetch.
	KlineLimit int

	// RatioPeriod is the long/short ratio aggregation period.
	RatioPeriod string

	// OpenInterestInterval and OpenInterestLimit shape the history fetch.
	OpenInterestInterval string
	OpenInterestLimit    int
}

// DefaultOptions matches the production tuning.
func DefaultOptions() Options {
	return Options{
		Category:             "linear",
		OrderBookDepth:       50,
		TradeLimit:           100,
		KlineLimit:           200,
		RatioPeriod:          "1h",
		OpenInterestInterval: "1h",
		OpenInterestLimit:    48,
	}
}

// Aggregator owns the resilience stack for REST market data. Construct one
// per client; it holds no per-symbol state and is safe for concurrent use.
type Aggregator struct {
	rest    *rest.Client
	limiter *ratelimit.SlidingWindow
	breaker *breaker.Breaker
	opts    Options
	logger  logging.Logger

	now func() time.Time
}

// New creates an aggregator over the given REST client, limiter and breaker.
func New(restClient *rest.Client, limiter *ratelimit.SlidingWindow, brk *breaker.Breaker, opts Options, logger logging.Logger) *Aggregator {
	if opts.Category == "" {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Aggregator{
		rest:    restClient,
		limiter: limiter,
		breaker: brk,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// fetch runs one gated sub-fetch: rate limiter, then breaker, then the
// retrying REST call, then decode. The breaker only sees the final outcome;
// individual retry attempts inside Execute are not separate failures.
func (a *Aggregator) fetch(ctx context.Context, ep market.Endpoint, params url.Values, decode func(json.RawMessage) error) error {
	if err := a.limiter.Acquire(ctx, ep); err != nil {
		return err
	}
	if !a.breaker.Allow(ep) {
		return market.NewError(market.KindCircuitOpen, ep, "", market.ErrCircuitOpen)
	}

	raw, err := a.rest.Execute(ctx, ep, params, false)
	if err != nil {
		a.breaker.RecordFailure(ep)
		return err
	}
	if err := decode(raw); err != nil {
		a.breaker.RecordFailure(ep)
		return err
	}
	a.breaker.RecordSuccess(ep)
	return nil
}

func (a *Aggregator) baseParams(symbol string) url.Values {
	params := url.Values{}
	params.Set("category", a.opts.Category)
	params.Set("symbol", symbol)
	return params
}

// FetchSnapshot builds the complete market snapshot for symbol. It never
// fails: every field of the returned snapshot holds either fetched data or
// its neutral default, with Meta recording which is which.
func (a *Aggregator) FetchSnapshot(ctx context.Context, symbol string) *market.Snapshot {
	snap := market.NewSnapshot(symbol, a.now().UnixMilli())

	// Phase 1: independent sub-fetches run concurrently. Each goroutine
	// writes one snapshot field under the shared mutex.
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(5)
	go func() {
		defer wg.Done()
		params := a.baseParams(symbol)
		err := a.fetch(ctx, market.EndpointTicker, params, func(raw json.RawMessage) error {
			ticker, err := market.ParseTicker(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Ticker = ticker
			snap.Meta.Ticker = true
			mu.Unlock()
			return nil
		})
		a.noteFailure(market.EndpointTicker, err)
	}()
	go func() {
		defer wg.Done()
		params := a.baseParams(symbol)
		params.Set("limit", strconv.Itoa(a.opts.OrderBookDepth))
		err := a.fetch(ctx, market.EndpointOrderBook, params, func(raw json.RawMessage) error {
			book, err := market.ParseOrderBook(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.OrderBook = book
			snap.Meta.OrderBook = true
			mu.Unlock()
			return nil
		})
		a.noteFailure(market.EndpointOrderBook, err)
	}()
	go func() {
		defer wg.Done()
		params := a.baseParams(symbol)
		params.Set("limit", strconv.Itoa(a.opts.TradeLimit))
		err := a.fetch(ctx, market.EndpointTrades, params, func(raw json.RawMessage) error {
			trades, err := market.ParseTrades(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Trades = trades
			snap.Meta.Trades = true
			mu.Unlock()
			return nil
		})
		a.noteFailure(market.EndpointTrades, err)
	}()
	go func() {
		defer wg.Done()
		params := a.baseParams(symbol)
		params.Set("period", a.opts.RatioPeriod)
		params.Set("limit", "1")
		err := a.fetch(ctx, market.EndpointLongShortRatio, params, func(raw json.RawMessage) error {
			ratio, err := market.ParseLongShortRatio(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Sentiment.LongShortRatio = ratio
			snap.Meta.LongShortRatio = true
			mu.Unlock()
			return nil
		})
		a.noteFailure(market.EndpointLongShortRatio, err)
	}()
	var riskTiers []market.RiskLimitTier
	go func() {
		defer wg.Done()
		params := a.baseParams(symbol)
		err := a.fetch(ctx, market.EndpointRiskLimit, params, func(raw json.RawMessage) error {
			tiers, err := market.ParseRiskLimits(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			riskTiers = tiers
			snap.Meta.RiskLimit = true
			mu.Unlock()
			return nil
		})
		a.noteFailure(market.EndpointRiskLimit, err)
	}()

	// Barrier: phase 2 must not overlap phase 1, both to bound peak
	// concurrency and so derived fields see settled inputs.
	wg.Wait()

	// Phase 2: multi-timeframe candles, deliberately sequential. Each
	// timeframe fails independently to an empty series.
	for _, tf := range market.Timeframes() {
		params := a.baseParams(symbol)
		params.Set("interval", string(tf))
		params.Set("limit", strconv.Itoa(a.opts.KlineLimit))
		timeframe := tf
		err := a.fetch(ctx, market.EndpointKline, params, func(raw json.RawMessage) error {
			candles, err := market.ParseCandles(raw)
			if err != nil {
				return err
			}
			snap.Candles[timeframe] = candles
			snap.Meta.Candles[timeframe] = true
			return nil
		})
		a.noteFailure(market.EndpointKline, err)
	}

	// Phase 3: open-interest history and realized volatility.
	a.fetchOpenInterest(ctx, symbol, snap)
	a.applyVolatility(snap)

	// Derived fields degrade to defaults when their upstream is missing.
	a.applyDerived(snap, riskTiers)

	snap.EnsureComplete()
	return snap
}

func (a *Aggregator) fetchOpenInterest(ctx context.Context, symbol string, snap *market.Snapshot) {
	params := a.baseParams(symbol)
	params.Set("intervalTime", a.opts.OpenInterestInterval)
	params.Set("limit", strconv.Itoa(a.opts.OpenInterestLimit))
	err := a.fetch(ctx, market.EndpointOpenInterest, params, func(raw json.RawMessage) error {
		points, err := market.ParseOpenInterest(raw)
		if err != nil {
			return err
		}
		oi := market.OpenInterest{History: points}
		if len(points) > 0 {
			oi.Current = points[0].Value
			oi.Previous = points[0].Value
		}
		if len(points) > 1 {
			oi.Previous = points[1].Value
		}
		snap.Sentiment.OpenInterest = oi
		snap.Meta.OpenInterest = true
		return nil
	})
	a.noteFailure(market.EndpointOpenInterest, err)
}

// noteFailure logs a failed sub-fetch. Failure is already reflected in the
// snapshot defaults and Meta flags; this is observability only.
func (a *Aggregator) noteFailure(ep market.Endpoint, err error) {
	if err == nil {
		return
	}
	a.logger.Warn("sub-fetch failed, using defaults",
		logging.String("endpoint", ep.String()),
		logging.String("kind", market.KindOf(err).String()),
		logging.Error(err),
	)
}
