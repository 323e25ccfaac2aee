package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/hswatch/internal/ir"
)

// EventMonitor matches fault events against the event rule table.
//
// Enabling subscribes both event categories and disabling unsubscribes
// them. Subscription state is tracked per category, so after a partial
// failure a retry only touches the category still out of step.
type EventMonitor struct {
	rules      []ir.EventRule
	enabled    bool
	subscribed [2]bool

	monitored uint32
	matches   uint32
}

var eventCategories = [...]EventCategory{CategoryLong, CategoryShort}

// NewEventMonitor creates a disabled monitor with no rules.
func NewEventMonitor() *EventMonitor {
	return &EventMonitor{}
}

// Refresh installs a new rule table.
func (m *EventMonitor) Refresh(rules []ir.EventRule) {
	m.rules = append(m.rules[:0], rules...)
}

// Enabled reports whether events are being matched.
func (m *EventMonitor) Enabled() bool { return m.enabled }

// Enable subscribes every category not yet held. On any failure the enabled
// flag is left unchanged and the joined errors are returned.
func (m *EventMonitor) Enable(sub EventSubscriber) error {
	var errs []error
	for i, cat := range eventCategories {
		if m.subscribed[i] {
			continue
		}
		if err := sub.Subscribe(cat); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", cat, err))
			continue
		}
		m.subscribed[i] = true
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.enabled = true
	return nil
}

// Disable unsubscribes every held category. On any failure the enabled flag
// is left unchanged and the joined errors are returned.
func (m *EventMonitor) Disable(sub EventSubscriber) error {
	var errs []error
	for i, cat := range eventCategories {
		if !m.subscribed[i] {
			continue
		}
		if err := sub.Unsubscribe(cat); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", cat, err))
			continue
		}
		m.subscribed[i] = false
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.enabled = false
	return nil
}

// forceDisable stops matching without touching subscriptions. Used when the
// rule table is lost; the subscriptions are released by the next Disable or
// reused by the next Enable.
func (m *EventMonitor) forceDisable() {
	m.enabled = false
}

// Subscribed reports whether category cat is currently held.
func (m *EventMonitor) Subscribed(cat EventCategory) bool {
	return m.subscribed[cat]
}

// OnEvent scans the whole rule table and calls fire for every matching row
// whose action is not ignored. Events are dropped while disabled.
func (m *EventMonitor) OnEvent(ev ir.FaultEvent, fire func(index int, rule ir.EventRule)) {
	if !m.enabled {
		return
	}
	m.monitored++

	name := ir.NormalizeName(ev.AppName)
	for i, rule := range m.rules {
		if rule.Ignored() || !rule.Matches(name, ev.EventID) {
			continue
		}
		m.matches++
		fire(i, rule)
	}
}

// Counters returns the events examined and the rule matches since the last reset.
func (m *EventMonitor) Counters() (monitored, matches uint32) {
	return m.monitored, m.matches
}

// ResetCounters zeroes the event counters.
func (m *EventMonitor) ResetCounters() {
	m.monitored, m.matches = 0, 0
}
