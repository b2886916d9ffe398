package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/volatiq/exchange-core/pkg/market"
)

// The window invariant: no matter how requests are spaced, the number of
// recorded timestamps inside any rolling window never exceeds the limit, per
// endpoint and globally.
func TestSlidingWindow_NeverExceedsLimit_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 80
	properties := gopter.NewProperties(parameters)

	endpoints := market.Endpoints()

	properties.Property("in-window count bounded by limit", prop.ForAll(
		func(limit int, globalLimit int, gaps []int, picks []int) bool {
			if len(gaps) == 0 || len(picks) == 0 {
				return true
			}
			n := len(gaps)
			if len(picks) < n {
				n = len(picks)
			}

			h := newHarness(WindowConfig{
				Global:          Rate{Limit: globalLimit, Interval: 2 * time.Second},
				DefaultEndpoint: Rate{Limit: limit, Interval: time.Second},
			})

			for i := 0; i < n; i++ {
				ep := endpoints[picks[i]%len(endpoints)]
				if err := h.w.Acquire(context.Background(), ep); err != nil {
					return false
				}
				if h.w.InWindow(ep) > limit {
					return false
				}
				if h.w.InWindow("") > globalLimit {
					return false
				}
				h.now = h.now.Add(time.Duration(gaps[i]) * time.Millisecond)
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(3, 12),
		gen.SliceOfN(40, gen.IntRange(0, 400)),
		gen.SliceOfN(40, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
