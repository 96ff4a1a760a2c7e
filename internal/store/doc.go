// Package store provides SQLite-backed durable storage for collaboration
// history.
//
// The store keeps one append-only log per run:
//   - Runs: the run id and its base pipeline
//   - Events: every accepted CollaborationEvent, stored as canonical JSON
//
// # Critical Patterns
//
// Idempotent append:
//   - UNIQUE(run_id, event_id) with ON CONFLICT DO NOTHING
//   - Redelivered or re-published events are silently ignored
//
// Deterministic reads:
//   - Events returns ORDER BY timestamp, user_id, event_id (BINARY), the
//     same order the event log folds in
//   - ArrivalOrder returns ORDER BY seq, the order the server accepted them
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
