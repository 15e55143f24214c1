package engine

import (
	"sync/atomic"
	"time"
)

// Clock stamps records with wall-clock milliseconds that never go
// backwards on this device: if the wall clock stalls or steps back, the
// next stamp is the previous one plus one.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

// NewClock creates a clock over now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the underlying wall-clock time.
func (c *Clock) Now() time.Time {
	return c.now()
}

// Millis returns the next strictly increasing millisecond stamp.
func (c *Clock) Millis() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}
