// Package eventlog is the per-run, append-only, de-duplicated collaboration
// log and the state it folds to.
//
// RunCollaborationState is never stored independently: it is the result of
// a left-to-right fold over the log in deterministic order (timestamp,
// userId, eventId). Two replicas that hold the same set of events therefore
// hold the same state, regardless of the order the events arrived in.
//
// Merge rules:
//   - GRAFT: every graft is kept; each inserts its agent directly after the
//     first occurrence of its anchor, so of two grafts on the same anchor the
//     later one ends up closest to it
//   - PRUNE: a tombstone bit per step; the later event decides
//   - FLAG: notes append in log order and are never replaced
//   - USER_JOIN / USER_LEAVE: add / remove the author; the payload's view of
//     membership is ignored
//   - CURSOR_MOVE: last write per user
package eventlog
