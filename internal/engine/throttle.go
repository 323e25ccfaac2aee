package engine

import (
	"fmt"

	"github.com/roach88/hswatch/internal/ir"
)

// Throttler rate-limits message actions with a per-slot cooldown.
//
// A dispatch is permitted only while the slot's remaining cooldown is zero.
// A successful dispatch arms the cooldown to the slot's period; Tick counts
// it down by one per cycle. Requests during the cooldown are dropped, never
// queued or retried: the throttler is a rate limiter, not a buffer.
type Throttler struct {
	slots     []ir.MessageAction
	remaining []uint16
	executed  uint32
}

// NewThrottler creates a throttler with no slots loaded.
func NewThrottler() *Throttler {
	return &Throttler{}
}

// Refresh installs a new message-action table. Every cooldown is zeroed so
// all actions are immediately available.
func (t *Throttler) Refresh(slots []ir.MessageAction) {
	t.slots = append(t.slots[:0], slots...)
	if cap(t.remaining) >= len(slots) {
		t.remaining = t.remaining[:len(slots)]
		clear(t.remaining)
	} else {
		t.remaining = make([]uint16, len(slots))
	}
}

// Tick decrements every nonzero cooldown by one cycle.
func (t *Throttler) Tick() {
	for i, r := range t.remaining {
		if r > 0 {
			t.remaining[i] = r - 1
		}
	}
}

// Dispatch sends slot i's payload through send when the slot is enabled and
// its cooldown has expired.
//
// Returns ErrSlotOutOfRange, ErrSlotDisabled or ErrCoolingDown without
// calling send. If send fails the cooldown is not armed and the error is
// returned wrapped.
func (t *Throttler) Dispatch(i int, send func([]byte) error) error {
	if i < 0 || i >= len(t.slots) {
		return fmt.Errorf("slot %d of %d: %w", i, len(t.slots), ErrSlotOutOfRange)
	}
	slot := t.slots[i]
	if !slot.Enabled {
		return fmt.Errorf("slot %d: %w", i, ErrSlotDisabled)
	}
	if t.remaining[i] != 0 {
		return fmt.Errorf("slot %d: %d cycles left: %w", i, t.remaining[i], ErrCoolingDown)
	}

	if err := send(slot.Payload); err != nil {
		return fmt.Errorf("send slot %d: %w", i, err)
	}

	t.executed++
	t.remaining[i] = slot.Cooldown
	return nil
}

// Slot returns message-action row i.
func (t *Throttler) Slot(i int) (ir.MessageAction, bool) {
	if i < 0 || i >= len(t.slots) {
		return ir.MessageAction{}, false
	}
	return t.slots[i], true
}

// Remaining returns slot i's remaining cooldown in cycles.
func (t *Throttler) Remaining(i int) uint16 {
	if i < 0 || i >= len(t.remaining) {
		return 0
	}
	return t.remaining[i]
}

// Len returns the number of loaded slots.
func (t *Throttler) Len() int {
	return len(t.slots)
}

// Executed returns how many message actions have been dispatched.
func (t *Throttler) Executed() uint32 {
	return t.executed
}

// ResetCount zeroes the dispatch counter.
func (t *Throttler) ResetCount() {
	t.executed = 0
}
