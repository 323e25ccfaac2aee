// Package store provides SQLite-backed persistence for hswatch.
//
// The store survives process restarts and holds:
//   - Persistent blocks: fixed-layout byte blocks replaced whole on every
//     write (the Reset Guard block lives here)
//   - Reset log: one row per processor reset accepted by the Reset Guard
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: a persisted reset count must survive power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// A block write is a single UPSERT statement, so a crash leaves either the
// old or the new block, never a mix.
package store
