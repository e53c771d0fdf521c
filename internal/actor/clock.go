package actor

import "sync/atomic"

// Clock hands out strictly increasing step sequence numbers. One clock is
// shared by every run on a system, so a sequence number identifies a step
// globally and stale messages from an earlier step are recognisable.
type Clock struct {
	seq atomic.Uint64
}

// NewClock returns a clock whose first Next is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
