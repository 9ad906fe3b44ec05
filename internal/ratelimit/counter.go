// Package ratelimit throttles repeated log lines on hot paths.
package ratelimit

import (
	"sync/atomic"
	"time"
)

// Counter tracks a running total and the last time a log was allowed.
// It is safe for concurrent use.
type Counter struct {
	interval time.Duration
	now      func() time.Time
	lastLog  atomic.Int64
	total    atomic.Uint64
}

// NewCounter allows a log at most once per interval. A zero or negative
// interval disables throttling.
func NewCounter(interval time.Duration) *Counter {
	return &Counter{interval: interval, now: time.Now}
}

// NewCounterWithClock is NewCounter with an injected clock.
func NewCounterWithClock(interval time.Duration, now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{interval: interval, now: now}
}

// Inc increments the total and reports whether a log line may be emitted.
// The first increment is always allowed.
func (c *Counter) Inc() (uint64, bool) {
	if c == nil {
		return 0, false
	}
	total := c.total.Add(1)
	if c.interval <= 0 {
		return total, true
	}
	now := c.now().UnixNano()
	last := c.lastLog.Load()
	if last != 0 && now-last < c.interval.Nanoseconds() {
		return total, false
	}
	if c.lastLog.CompareAndSwap(last, now) {
		return total, true
	}
	return total, false
}

// Total returns the number of increments so far.
func (c *Counter) Total() uint64 {
	if c == nil {
		return 0
	}
	return c.total.Load()
}
