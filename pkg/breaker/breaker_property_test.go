package breaker

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
)

// stateModel is an independent re-statement of the breaker transition rules.
// The property drives the real breaker and the model with the same event
// sequence and requires them to agree at every step.
type stateModel struct {
	threshold   int
	recovery    time.Duration
	state       State
	failures    int
	lastFailure time.Time
}

func (m *stateModel) allow(now time.Time) bool {
	if m.state != Open {
		return true
	}
	if now.Sub(m.lastFailure) >= m.recovery {
		m.state = HalfOpen
		return true
	}
	return false
}

func (m *stateModel) success() {
	m.failures = 0
	m.state = Closed
}

func (m *stateModel) failure(now time.Time) {
	m.failures++
	m.lastFailure = now
	if m.state == HalfOpen || m.failures >= m.threshold {
		m.state = Open
	}
}

func TestBreaker_MatchesModel_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ep := market.EndpointKline

	// Events: 0 = failure, 1 = success, 2 = advance clock 10s, 3 = probe
	// (Allow without recording an outcome).
	properties.Property("breaker agrees with its model", prop.ForAll(
		func(threshold int, events []int) bool {
			cfg := Config{
				Threshold:       threshold,
				RecoveryTimeout: time.Minute,
				Logger:          logging.NewNopLogger(),
			}
			b := New(cfg)
			clock := time.UnixMilli(1700000000000)
			b.now = func() time.Time { return clock }

			m := &stateModel{threshold: threshold, recovery: time.Minute, state: Closed}

			for _, ev := range events {
				switch ev % 4 {
				case 0:
					b.RecordFailure(ep)
					m.failure(clock)
				case 1:
					b.RecordSuccess(ep)
					m.success()
				case 2:
					clock = clock.Add(10 * time.Second)
				case 3:
					if b.Allow(ep) != m.allow(clock) {
						return false
					}
				}
				if b.StateOf(ep) != m.state || b.Failures(ep) != m.failures {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOfN(60, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
