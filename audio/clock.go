// Package audio renders the rack to the sound device and provides the
// audio clock that the scheduler reads.
package audio

import "sync"

// Clock is the authoritative audio time in seconds
type Clock interface {
	Now() float64
}

// ManualClock is a Clock moved by hand, for simulations and tests
type ManualClock struct {
	mu sync.Mutex
	t  float64
}

// Now implements Clock
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set jumps to t
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// Advance moves the clock forward by dt seconds
func (c *ManualClock) Advance(dt float64) {
	c.mu.Lock()
	c.t += dt
	c.mu.Unlock()
}
