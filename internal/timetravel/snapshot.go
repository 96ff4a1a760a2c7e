// Package timetravel replays a collaboration log into per-event snapshots
// and scrubs through them.
//
// A snapshot pairs the state before an event with the state after it and
// records which top-level keys changed. Snapshots are built from the whole
// log in deterministic order; range filtering happens afterwards, so the
// first snapshot of a range still carries the true state before it.
package timetravel

import (
	"bytes"
	"fmt"

	"github.com/roach88/runcollab/internal/eventlog"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/notify"
)

// Change is the before and after value of one state key.
type Change struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// Snapshot is the effect of one event.
type Snapshot struct {
	Index       int               `json:"index"`
	EventID     string            `json:"eventId"`
	UserID      string            `json:"userId"`
	EventType   ir.EventType      `json:"eventType"`
	Timestamp   int64             `json:"timestamp"`
	StateBefore eventlog.State    `json:"stateBefore"`
	StateAfter  eventlog.State    `json:"stateAfter"`
	Diff        map[string]Change `json:"diff"`
	Description string            `json:"description"`
}

// Range bounds snapshots by event timestamp, inclusive. Zero means
// unbounded on that side.
type Range struct {
	Start int64
	End   int64
}

// Contains reports whether ts is inside r.
func (r Range) Contains(ts int64) bool {
	if r.Start != 0 && ts < r.Start {
		return false
	}
	if r.End != 0 && ts > r.End {
		return false
	}
	return true
}

// Build returns one snapshot per distinct event, in deterministic order,
// folding on top of base.
func Build(base []string, events []ir.Event) []Snapshot {
	snaps := make([]Snapshot, 0, len(events))
	eventlog.Replay(base, events, func(i int, ev ir.Event, before, after eventlog.State) {
		snaps = append(snaps, Snapshot{
			Index:       i,
			EventID:     ev.ID,
			UserID:      ev.UserID,
			EventType:   ev.Type(),
			Timestamp:   ev.Timestamp,
			StateBefore: before.Clone(),
			StateAfter:  after.Clone(),
			Diff:        Diff(before, after),
			Description: Describe(ev),
		})
	})
	return snaps
}

// Filter keeps the snapshots whose timestamp is inside r. Indexes keep
// their position in the full log.
func Filter(snaps []Snapshot, r Range) []Snapshot {
	if r == (Range{}) {
		return snaps
	}
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if r.Contains(s.Timestamp) {
			out = append(out, s)
		}
	}
	return out
}

// Diff compares two states key by key, by value, and returns the keys that
// differ.
func Diff(before, after eventlog.State) map[string]Change {
	b, a := before.Fields(), after.Fields()
	out := make(map[string]Change)
	for _, key := range eventlog.StateKeys {
		if !sameValue(b[key], a[key]) {
			out[key] = Change{Before: b[key], After: a[key]}
		}
	}
	return out
}

func sameValue(x, y any) bool {
	bx, errX := ir.MarshalCanonical(x)
	by, errY := ir.MarshalCanonical(y)
	if errX != nil || errY != nil {
		return false
	}
	return bytes.Equal(bx, by)
}

// Describe renders a one-line summary of ev.
func Describe(ev ir.Event) string {
	if d, ok := ev.Data.(ir.CursorData); ok {
		return fmt.Sprintf("%s moved to %s", ev.UserID, d.NodeID)
	}
	return notify.Describe(ev)
}
