package engine

import "github.com/roach88/hswatch/internal/ir"

// appSlot is the runtime state of one Application Monitor row.
type appSlot struct {
	entry     ir.AppMonEntry
	countdown uint16
	lastCount uint32
	enabled   bool
}

// AppMonitor detects watched resources that stop making progress.
//
// Each enabled slot counts down one per tick while the resource's liveness
// count is unchanged. A change re-arms the countdown; reaching zero fires
// the slot's action and re-arms, so a stuck resource fires at a steady
// cadence of CycleLimit ticks.
type AppMonitor struct {
	slots []appSlot
}

// NewAppMonitor creates an empty monitor.
func NewAppMonitor() *AppMonitor {
	return &AppMonitor{}
}

// Refresh installs entries and resets every slot: enable bits recomputed,
// countdowns set to CycleLimit (0 when disabled), last counts zeroed.
func (m *AppMonitor) Refresh(entries []ir.AppMonEntry) {
	m.slots = m.slots[:0]
	for _, entry := range entries {
		s := appSlot{entry: entry, enabled: entry.Enabled()}
		if s.enabled {
			s.countdown = entry.CycleLimit
		}
		m.slots = append(m.slots, s)
	}
}

// Rearm applies Refresh to the entries already loaded.
func (m *AppMonitor) Rearm() {
	for i := range m.slots {
		s := &m.slots[i]
		s.lastCount = 0
		s.countdown = 0
		if s.enabled {
			s.countdown = s.entry.CycleLimit
		}
	}
}

// TickAll advances every enabled slot by one cycle. fire is called, in table
// order, for every slot whose countdown reached zero this tick.
func (m *AppMonitor) TickAll(reg LivenessRegistry, fire func(index int, entry ir.AppMonEntry)) {
	for i := range m.slots {
		s := &m.slots[i]
		if !s.enabled {
			continue
		}

		count, ok := reg.LivenessCount(s.entry.Name, ir.KindAppMain)
		if ok && count != s.lastCount {
			s.lastCount = count
			s.countdown = s.entry.CycleLimit
			continue
		}

		s.countdown--
		if s.countdown == 0 {
			fire(i, s.entry)
			s.countdown = s.entry.CycleLimit
		}
	}
}

// Countdown returns slot i's remaining cycles.
func (m *AppMonitor) Countdown(i int) uint16 {
	if i < 0 || i >= len(m.slots) {
		return 0
	}
	return m.slots[i].countdown
}

// Len returns the number of loaded slots.
func (m *AppMonitor) Len() int { return len(m.slots) }

// EnabledMask packs the per-slot enable bits, 32 slots per word.
func (m *AppMonitor) EnabledMask() []uint32 {
	mask := make([]uint32, (len(m.slots)+31)/32)
	for i, s := range m.slots {
		if s.enabled {
			mask[i/32] |= 1 << (i % 32)
		}
	}
	return mask
}
