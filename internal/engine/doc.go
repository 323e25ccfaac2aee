// Package engine implements the hswatch monitoring and action-dispatch core.
//
// The engine verifies that watched resources keep making progress, reacts to
// fault events, throttles corrective actions, tracks CPU utilization and
// guards processor resets with a persisted, complement-checked counter.
//
// ARCHITECTURE:
//
// Single Foreground Cycle:
// Every monitor, throttle and reset-guard mutation happens in the goroutine
// that calls Tick (normally Run). One Tick is one cycle, the unit of time for
// every countdown and cooldown:
//  1. Reacquire table leases; refresh monitors whose table changed
//  2. Application Monitor countdowns
//  3. Utilization and CPU hogging
//  4. Message-action cooldowns
//  5. External watchdog timer service
//  6. Drain at most one message (fault event or command) from the pipe
//
// Background Idle Task:
// IdleTask is the only other goroutine touching engine state. It writes
// nothing but the IdleSampler counter and timestamp ring, both atomic words.
// The foreground treats any value it loads, even a stale one, as valid.
//
// Error Policy:
// Nothing below Tick returns an error to the caller. Lookup failures, table
// loss, invalid configuration, cooldown drops and reset refusals are each
// handled where detected and surfaced as a Report plus a counter.
package engine
