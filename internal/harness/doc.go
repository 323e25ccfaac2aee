// Package harness runs watchdog scenarios against a real engine.
//
// A scenario scripts what the engine sees, tick by tick: liveness counts,
// fault events, ground commands, table replacements and losses, and
// restarts. The harness records every report, bus send and reset request
// into a trace and evaluates assertions against it.
//
// # Scenario Format
//
//	name: timeout_cooldown
//	description: "A stuck application fires its message at the cooldown cadence"
//	tables:
//	  appmon:
//	    - {name: WATCHED, cycle_limit: 3, action: "message:0"}
//	  msgact:
//	    - {enabled: true, cooldown: 5, payload: "18ab"}
//	steps:
//	  - liveness: {WATCHED: 42}
//	    ticks: 10
//	assertions:
//	  - {type: actions, count: 2}
//	  - {type: reports, report: message_dropped, count: 1}
//
// Inline tables are validated by the same schema as table files.
//
// # Assertion Types
//
//   - reports: a report appears exactly count times
//   - report_order: reports appear in the listed order
//   - actions: exactly count messages were sent on the bus
//   - resets: exactly count processor resets were requested
//   - resets_performed: the persisted performed count after the last step
//
// # Deterministic Testing
//
// The harness uses:
//   - A fixed boot ID (scenario.boot_id or "test-boot-default")
//   - Fake time advancing one second per tick
//   - In-memory persistent block, registry and subscriber
//
// This ensures identical traces across runs for golden file comparison.
package harness
