// Package store provides SQLite-backed durable storage for harness runs.
//
// A run is written incrementally through the harness.Recorder interface:
//   - runs: one row per run, summary filled in when the run ends
//   - cases: one row per case result, keyed by content-addressed case ID
//   - outcomes: the assertions recorded by each case, in order
//   - hook_failures: lifecycle hooks that failed during the run
//
// Writes are idempotent (ON CONFLICT DO NOTHING), so recording the same case
// twice is harmless. Reads order by seq, the run's logical clock, and never by
// timestamps. Assertion values are stored as canonical JSON.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
