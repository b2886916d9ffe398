package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Pacer spreads operations evenly over time using a token bucket. It is used
// for websocket control frames (subscriptions, pings), where the exchange
// cares about burstiness rather than a hard window.
type Pacer interface {
	// Wait blocks until the next operation is permitted or ctx is
	// cancelled.
	Wait(ctx context.Context) error

	// SetRate replaces the pacing rate.
	SetRate(rate Rate) error
}

type uberPacer struct {
	mu      sync.Mutex
	limiter ratelimit.Limiter
	rate    Rate
}

// NewPacer creates a token-bucket pacer. The rate is converted to operations
// per second for the underlying limiter; rates below 1 op/s are clamped up
// to 1.
func NewPacer(rate Rate) Pacer {
	return &uberPacer{
		limiter: ratelimit.New(opsPerSecond(rate)),
		rate:    rate,
	}
}

func opsPerSecond(rate Rate) int {
	rps := int(float64(rate.Limit) / rate.Interval.Seconds())
	if rps < 1 {
		rps = 1
	}
	return rps
}

func (p *uberPacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pacer wait cancelled: %w", err)
	}

	p.mu.Lock()
	limiter := p.limiter
	p.mu.Unlock()

	// Take blocks without a cancellation hook, so it runs aside and loses
	// the race against ctx. An abandoned take still consumes its slot,
	// which keeps the pacing conservative.
	done := make(chan struct{})
	go func() {
		limiter.Take()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pacer wait cancelled: %w", ctx.Err())
	}
}

func (p *uberPacer) SetRate(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid pacing rate: %+v", rate)
	}
	p.mu.Lock()
	p.limiter = ratelimit.New(opsPerSecond(rate))
	p.rate = rate
	p.mu.Unlock()
	return nil
}

// DefaultControlRate paces websocket control frames at 10 per second.
func DefaultControlRate() Rate {
	return Rate{Limit: 10, Interval: time.Second}
}
