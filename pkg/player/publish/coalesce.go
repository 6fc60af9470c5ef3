package publish

import (
	"sync"
	"time"
)

// Coalescer is a single-slot, last-value-wins cell flushed on a fixed
// interval. Rapid offers within one interval collapse into the newest
// payload. The pending timer is a scoped resource: Close releases it and
// drops anything unflushed.
type Coalescer struct {
	interval time.Duration
	flush    func(payload []byte)

	mu      sync.Mutex
	pending []byte
	timer   *time.Timer
	closed  bool
}

func NewCoalescer(interval time.Duration, flush func(payload []byte)) *Coalescer {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &Coalescer{interval: interval, flush: flush}
}

// Offer replaces the pending payload. The flush fires one interval after the
// first offer of a burst.
func (c *Coalescer) Offer(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = payload
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.fire)
	}
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	payload := c.pending
	c.pending = nil
	c.timer = nil
	closed := c.closed
	c.mu.Unlock()

	if closed || payload == nil {
		return
	}
	c.flush(payload)
}

// Close stops the pending timer and discards any unflushed payload. Safe to
// call more than once.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
