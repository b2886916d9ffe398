// Package ratelimit controls the pace of outbound operations.
//
// Two mechanisms live here. SlidingWindow enforces the exchange's documented
// request quotas exactly: a global bucket plus one bucket per endpoint, each
// counting request timestamps inside a rolling window. Pacer is a token
// bucket used where smooth spacing matters more than a hard window, such as
// websocket control frames.
//
// Acquire never rejects; it throttles. A caller blocked on a full bucket
// waits until the oldest in-window timestamp ages out, re-checks, and
// proceeds. The limiter additionally honors the exchange's own rate-limit
// response headers: when the advertised remaining quota drops below a
// low-water mark, a small safety delay is inserted before each request.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
)

// Rate is a request quota: Limit operations per rolling Interval.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// WindowConfig configures a SlidingWindow limiter.
type WindowConfig struct {
	// Global is the quota shared by all endpoints.
	Global Rate

	// Endpoints holds per-endpoint quotas. Endpoints without an entry use
	// DefaultEndpoint.
	Endpoints map[market.Endpoint]Rate

	// DefaultEndpoint applies to endpoints missing from Endpoints.
	DefaultEndpoint Rate

	// LowWater is the header-advertised remaining-quota threshold below
	// which SafetyDelay is inserted before each request. Zero disables the
	// margin.
	LowWater int64

	// SafetyDelay is the extra wait applied while below LowWater.
	SafetyDelay time.Duration

	Logger logging.Logger
}

// DefaultWindowConfig mirrors the exchange's published limits: 600 requests
// per 5s globally and 120/s per endpoint unless overridden.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Global:          Rate{Limit: 600, Interval: 5 * time.Second},
		DefaultEndpoint: Rate{Limit: 120, Interval: time.Second},
		Endpoints: map[market.Endpoint]Rate{
			market.EndpointKline:          {Limit: 60, Interval: time.Second},
			market.EndpointLongShortRatio: {Limit: 60, Interval: time.Second},
			market.EndpointOpenInterest:   {Limit: 60, Interval: time.Second},
		},
		LowWater:    10,
		SafetyDelay: 500 * time.Millisecond,
	}
}

type bucket struct {
	rate   Rate
	stamps []time.Time
}

// prune drops timestamps that left the window. Caller holds the lock.
func (b *bucket) prune(now time.Time) {
	cutoff := now.Add(-b.rate.Interval)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// waitFor returns how long until the oldest in-window timestamp expires.
// Zero means the bucket has capacity. Caller holds the lock.
func (b *bucket) waitFor(now time.Time) time.Duration {
	if len(b.stamps) < b.rate.Limit {
		return 0
	}
	return b.stamps[0].Add(b.rate.Interval).Sub(now)
}

// remove drops the newest occurrence of stamp. Caller holds the lock.
func (b *bucket) remove(stamp time.Time) {
	for i := len(b.stamps) - 1; i >= 0; i-- {
		if b.stamps[i].Equal(stamp) {
			b.stamps = append(b.stamps[:i], b.stamps[i+1:]...)
			return
		}
	}
}

// SlidingWindow tracks request timestamps per endpoint and globally and
// blocks callers until capacity is available in both buckets. Safe for
// concurrent use; a single mutex guards all buckets so an acquisition is
// atomic across the global and endpoint windows.
type SlidingWindow struct {
	mu        sync.Mutex
	global    *bucket
	endpoints map[market.Endpoint]*bucket
	cfg       WindowConfig

	// remaining is the quota advertised by the most recent response
	// headers; -1 until the first update.
	remaining int64

	logger logging.Logger

	// Injectable clock and sleep, fixed to real time outside of tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindow creates a limiter with pre-built buckets for every known
// endpoint.
func NewSlidingWindow(cfg WindowConfig) *SlidingWindow {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	w := &SlidingWindow{
		global:    &bucket{rate: cfg.Global},
		endpoints: make(map[market.Endpoint]*bucket),
		cfg:       cfg,
		remaining: -1,
		logger:    cfg.Logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, ep := range market.Endpoints() {
		rate, ok := cfg.Endpoints[ep]
		if !ok {
			rate = cfg.DefaultEndpoint
		}
		w.endpoints[ep] = &bucket{rate: rate}
	}
	return w
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

// Acquire blocks until a request to endpoint is permitted, then records the
// request in both the global and the endpoint bucket. It only fails when ctx
// is cancelled; the limiter itself never rejects.
func (w *SlidingWindow) Acquire(ctx context.Context, endpoint market.Endpoint) error {
	for {
		w.mu.Lock()
		ep, ok := w.endpoints[endpoint]
		if !ok {
			// Unknown endpoints get the default quota on first use.
			ep = &bucket{rate: w.cfg.DefaultEndpoint}
			w.endpoints[endpoint] = ep
		}

		now := w.now()
		w.global.prune(now)
		ep.prune(now)

		wait := w.global.waitFor(now)
		if epWait := ep.waitFor(now); epWait > wait {
			wait = epWait
		}

		if wait <= 0 {
			w.global.stamps = append(w.global.stamps, now)
			ep.stamps = append(ep.stamps, now)
			margin := w.safetyDelay()
			w.mu.Unlock()
			if margin > 0 {
				w.logger.Debug("rate limit low-water margin",
					logging.String("endpoint", endpoint.String()),
					logging.Duration("delay", margin),
				)
				if err := w.sleep(ctx, margin); err != nil {
					// The request never went out; give the slot back.
					w.rollback(endpoint, now)
					return err
				}
			}
			return nil
		}
		w.mu.Unlock()

		w.logger.Debug("rate limit window full",
			logging.String("endpoint", endpoint.String()),
			logging.Duration("wait", wait),
		)
		if err := w.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait cancelled: %w", err)
		}
	}
}

// rollback removes a recorded acquisition from both buckets after a cancelled
// margin sleep, so an abandoned request does not count against the window.
func (w *SlidingWindow) rollback(endpoint market.Endpoint, stamp time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.global.remove(stamp)
	if ep, ok := w.endpoints[endpoint]; ok {
		ep.remove(stamp)
	}
}

// safetyDelay returns the extra margin while the advertised remaining quota
// is below the low-water mark. Caller holds the lock.
func (w *SlidingWindow) safetyDelay() time.Duration {
	if w.cfg.LowWater <= 0 || w.remaining < 0 || w.remaining >= w.cfg.LowWater {
		return 0
	}
	return w.cfg.SafetyDelay
}

// UpdateFromHeaders feeds the exchange's rate-limit response headers back
// into the limiter. The exchange has used both X-Bapi-* and generic
// X-RateLimit-* names over time, so both are tried.
func (w *SlidingWindow) UpdateFromHeaders(header http.Header) {
	remainingStr := header.Get("X-Bapi-Limit-Status")
	if remainingStr == "" {
		remainingStr = header.Get("X-RateLimit-Remaining")
	}
	if remainingStr == "" {
		return
	}
	remaining, err := strconv.ParseInt(remainingStr, 10, 64)
	if err != nil {
		return
	}

	w.mu.Lock()
	w.remaining = remaining
	low := w.cfg.LowWater > 0 && remaining < w.cfg.LowWater
	w.mu.Unlock()

	if low {
		w.logger.Warn("exchange rate limit quota low",
			logging.Int64("remaining", remaining),
			logging.Int64("low_water", w.cfg.LowWater),
		)
	}
}

// InWindow reports the current in-window request count for endpoint, or the
// global count when endpoint is empty. Intended for tests and diagnostics.
func (w *SlidingWindow) InWindow(endpoint market.Endpoint) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if endpoint == "" {
		w.global.prune(now)
		return len(w.global.stamps)
	}
	b, ok := w.endpoints[endpoint]
	if !ok {
		return 0
	}
	b.prune(now)
	return len(b.stamps)
}
