package events

import (
	"context"
	"sync"
	"time"

	"github.com/trafficgrid/controller/clock"
)

// Coalescer buffers the latest event per key and flushes on a ticker,
// throttling high-rate event types (vehicle.update at 10Hz keyed by vehicle
// ID, density.update at 1Hz keyed by road ID) down to one publish per key per
// flush — the same buffered-flush shape as a checkpoint loop, applied to
// event coalescing instead of disk writes.
type Coalescer struct {
	bus    Bus
	period time.Duration
	clk    clock.Clock

	mu      sync.Mutex
	pending map[string]Event
}

// NewCoalescer returns a Coalescer that flushes the latest event per key to
// bus every period. Call Run in its own goroutine.
func NewCoalescer(bus Bus, period time.Duration, clk clock.Clock) *Coalescer {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coalescer{bus: bus, period: period, clk: clk, pending: make(map[string]Event)}
}

// Offer replaces the pending event for key, coalescing repeated updates
// between flushes.
func (c *Coalescer) Offer(key string, ev Event) {
	c.mu.Lock()
	c.pending[key] = ev
	c.mu.Unlock()
}

// Run flushes pending events every period until ctx is cancelled.
func (c *Coalescer) Run(ctx context.Context) {
	c.clk.Every(ctx, c.period, func(ctx context.Context) {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.pending
		c.pending = make(map[string]Event, len(batch))
		c.mu.Unlock()
		for _, ev := range batch {
			_ = c.bus.PublishCtx(ctx, ev)
		}
	})
}
