// Package engine is the composition root of the real-time collaboration
// engine: one explicit, constructible Engine per user session that owns
// the connection supervisor, the event log, presence, notifications and
// the mutation dispatcher for the run currently open.
//
// ARCHITECTURE:
//
// Single logical thread of control:
// Every entry point runs through one serializing executor (Engine.do):
// public API calls, inbound frames, timer callbacks and dial results. No
// two of them ever interleave, so the components below need no locking of
// their own to stay consistent with each other.
//
// Inbound flow:
// 1. Supervisor pump receives a frame and posts it to the executor
// 2. The frame is checked against the current run's topic
// 3. The payload is decoded at the trust boundary (ir.DecodeEvent)
// 4. The event is applied to the log; duplicates stop here
// 5. A notice is derived for new remote events
//
// Outbound flow:
// Dispatcher validates the intent, applies the event locally, then asks
// the supervisor to publish it. A send while disconnected is dropped and the
// optimistic local state stands. With WithOutbox, dropped GRAFT, PRUNE and
// FLAG events are re-published after the next successful connection; the
// server de-duplicates by event id.
//
// Run switch:
// Open cancels every timer and discards the log, presence, notices and
// outbox in one serialized step before connecting to the new run.
package engine
