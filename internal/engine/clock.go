package engine

import "sync/atomic"

// Clock counts engine cycles. It moves forward once per Tick and stamps
// every report, so report order never depends on wall time. Cycle may be
// read from any goroutine; only the cycle goroutine calls Advance.
type Clock struct {
	cycle atomic.Int64
}

// NewClock returns a clock at cycle 0 (before the first Tick).
func NewClock() *Clock {
	return &Clock{}
}

// Advance starts the next cycle and returns its number.
func (c *Clock) Advance() int64 {
	return c.cycle.Add(1)
}

// Cycle returns the current cycle number.
func (c *Clock) Cycle() int64 {
	return c.cycle.Load()
}
