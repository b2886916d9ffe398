// Package breaker implements a per-endpoint circuit breaker. An endpoint in
// persistent failure is short-circuited: callers skip the remote call
// entirely and fall back to defaults until a recovery timeout elapses, after
// which a single probe call is allowed through.
package breaker

import (
	"sync"
	"time"

	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
)

// State is the breaker state for one endpoint.
type State int

const (
	// Closed: calls flow normally.
	Closed State = iota
	// Open: calls are denied until the recovery timeout elapses.
	Open
	// HalfOpen: one probe call is allowed; its outcome decides the next
	// state.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker.
type Config struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int

	// RecoveryTimeout is how long an open circuit stays open before a
	// probe is allowed.
	RecoveryTimeout time.Duration

	Logger logging.Logger
}

// DefaultConfig opens after 5 failures and probes after 60s.
func DefaultConfig() Config {
	return Config{
		Threshold:       5,
		RecoveryTimeout: 60 * time.Second,
	}
}

type entry struct {
	failures    int
	lastFailure time.Time
	state       State
}

// Breaker tracks failure state per endpoint. It is a pure state machine with
// no I/O and is safe for concurrent use by all in-flight sub-fetches.
type Breaker struct {
	mu      sync.Mutex
	entries map[market.Endpoint]*entry
	cfg     Config
	logger  logging.Logger

	now func() time.Time
}

// New creates a breaker with every known endpoint starting Closed.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	b := &Breaker{
		entries: make(map[market.Endpoint]*entry),
		cfg:     cfg,
		logger:  cfg.Logger,
		now:     time.Now,
	}
	for _, ep := range market.Endpoints() {
		b.entries[ep] = &entry{state: Closed}
	}
	return b
}

func (b *Breaker) entryFor(ep market.Endpoint) *entry {
	e, ok := b.entries[ep]
	if !ok {
		e = &entry{state: Closed}
		b.entries[ep] = e
	}
	return e
}

// Allow reports whether a call to endpoint may proceed. An Open circuit whose
// recovery timeout has elapsed transitions to HalfOpen and allows one probe.
func (b *Breaker) Allow(endpoint market.Endpoint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(endpoint)
	switch e.state {
	case Open:
		if b.now().Sub(e.lastFailure) >= b.cfg.RecoveryTimeout {
			e.state = HalfOpen
			b.logger.Info("circuit breaker half-open",
				logging.String("endpoint", endpoint.String()),
			)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the endpoint to Closed with a zero failure count.
func (b *Breaker) RecordSuccess(endpoint market.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(endpoint)
	if e.state != Closed {
		b.logger.Info("circuit breaker closed",
			logging.String("endpoint", endpoint.String()),
		)
	}
	e.failures = 0
	e.state = Closed
}

// RecordFailure increments the failure counter and opens the circuit when the
// threshold is reached. A failure during HalfOpen reopens immediately.
func (b *Breaker) RecordFailure(endpoint market.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryFor(endpoint)
	e.failures++
	e.lastFailure = b.now()

	if e.state == HalfOpen || e.failures >= b.cfg.Threshold {
		if e.state != Open {
			b.logger.Warn("circuit breaker opened",
				logging.String("endpoint", endpoint.String()),
				logging.Int("failures", e.failures),
			)
		}
		e.state = Open
	}
}

// StateOf returns the current state for endpoint. Diagnostics and tests.
func (b *Breaker) StateOf(endpoint market.Endpoint) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entryFor(endpoint).state
}

// Failures returns the consecutive failure count for endpoint.
func (b *Breaker) Failures(endpoint market.Endpoint) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entryFor(endpoint).failures
}
