package market

import (
	"sync"
	"time"
)

// LiquidationEvent is one forced liquidation reported on the stream.
type LiquidationEvent struct {
	Symbol    string
	Side      string
	Size      float64
	Price     float64
	Timestamp int64 // epoch milliseconds
}

// LiquidationBuffer is a per-symbol, time-windowed event buffer. Events older
// than the retention window are pruned on every insert, so the buffer never
// grows beyond the traffic of one window. The stream connection owns the
// buffer and is its only writer; consumers read copies via Events.
type LiquidationBuffer struct {
	mu        sync.Mutex
	retention time.Duration
	events    map[string][]LiquidationEvent
	now       func() time.Time
}

// DefaultLiquidationRetention keeps one day of events.
const DefaultLiquidationRetention = 24 * time.Hour

// NewLiquidationBuffer creates a buffer with the given retention window.
// A non-positive retention falls back to the 24h default.
func NewLiquidationBuffer(retention time.Duration) *LiquidationBuffer {
	if retention <= 0 {
		retention = DefaultLiquidationRetention
	}
	return &LiquidationBuffer{
		retention: retention,
		events:    make(map[string][]LiquidationEvent),
		now:       time.Now,
	}
}

// Add appends an event and prunes entries that aged out of the window.
func (b *LiquidationBuffer) Add(ev LiquidationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.retention).UnixMilli()
	kept := b.events[ev.Symbol]
	pruned := kept[:0]
	for _, e := range kept {
		if e.Timestamp >= cutoff {
			pruned = append(pruned, e)
		}
	}
	b.events[ev.Symbol] = append(pruned, ev)
}

// Events returns a copy of the retained events for symbol, oldest first.
func (b *LiquidationBuffer) Events(symbol string) []LiquidationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := b.events[symbol]
	out := make([]LiquidationEvent, len(stored))
	copy(out, stored)
	return out
}

// Len reports the number of retained events for symbol.
func (b *LiquidationBuffer) Len(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[symbol])
}
