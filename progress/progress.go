// Package progress provides the single datum that may be shared across
// goroutines while a compression or extraction job runs: a monotonically
// increasing count of bytes consumed from the input.
package progress

import "sync/atomic"

// Counter is a relaxed atomic byte counter. The zero value is ready to use.
// Add is meant to be called only by the goroutine running a job; Load may
// be polled from any other goroutine at any time.
type Counter struct {
	n atomic.Uint64
}

// Add increments the counter by delta.
func (c *Counter) Add(delta uint64) {
	if c == nil {
		return
	}
	c.n.Add(delta)
}

// Load returns the current count.
func (c *Counter) Load() uint64 {
	if c == nil {
		return 0
	}
	return c.n.Load()
}
