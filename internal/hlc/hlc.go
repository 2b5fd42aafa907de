// Package hlc provides a hybrid logical clock that issues strictly increasing versions.
package hlc

import (
	"sync/atomic"
	"time"
)

// Clock issues versions derived from the wall clock.
// A version is never lower than any version issued or observed before.
type Clock struct {
	last atomic.Uint64
	now  func() time.Time
}

// New creates a clock reading physical time from now. A nil now uses time.Now.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next issues a new version.
func (c *Clock) Next() uint64 {
	physical := uint64(max(c.now().UnixNano(), 0))
	for {
		last := c.last.Load()
		next := max(physical, last+1)
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Observe moves the clock forward so that later versions are greater than v.
func (c *Clock) Observe(v uint64) {
	for {
		last := c.last.Load()
		if v <= last || c.last.CompareAndSwap(last, v) {
			return
		}
	}
}

// Last returns the latest version issued or observed.
func (c *Clock) Last() uint64 {
	return c.last.Load()
}
