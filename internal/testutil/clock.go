package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of FakeTime.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeTime is an engine.TimeSource moved by hand.
//
// Unlike the system time source, FakeTime only moves when Advance or Set is
// called, so idle-sample timestamps and report rate limits are repeatable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeTime creates a fake time source at start. A zero start means Epoch.
func NewFakeTime(start time.Time) *FakeTime {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeTime{now: start}
}

// Now returns the current fake time.
func (c *FakeTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeTime) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeTime) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
