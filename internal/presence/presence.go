// Package presence projects active users and cursors from the event log,
// evicting users that have gone quiet.
//
// Eviction is a pure function of (now, lastSeen): nothing is mutated when a
// user goes stale, so a heartbeat or any later event brings them back.
package presence

import (
	"maps"
	"slices"
	"time"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/eventlog"
)

// DefaultStaleness is how long a user stays present after their latest event.
const DefaultStaleness = 30 * time.Second

// Source is the read surface of the event log presence needs.
type Source interface {
	Snapshot() eventlog.State
	LastSeen() map[string]int64
}

// Tracker answers presence queries against a Source.
type Tracker struct {
	src       Source
	staleness time.Duration
}

// NewTracker creates a tracker. A non-positive staleness disables eviction.
func NewTracker(src Source, staleness time.Duration) *Tracker {
	return &Tracker{src: src, staleness: staleness}
}

// ActiveUsers returns the sorted set of users that joined, have not left,
// and were seen within the staleness window.
func (t *Tracker) ActiveUsers(now time.Time) []string {
	return Active(t.src.Snapshot().ActiveUsers, t.src.LastSeen(), now, t.staleness)
}

// Cursors returns the last-known cursor of every fresh user.
func (t *Tracker) Cursors(now time.Time) map[string]string {
	return FreshCursors(t.src.Snapshot().Cursors, t.src.LastSeen(), now, t.staleness)
}

// LastSeen returns when user last produced an event.
func (t *Tracker) LastSeen(user string) (time.Time, bool) {
	ts, ok := t.src.LastSeen()[user]
	if !ok {
		return time.Time{}, false
	}
	return clock.FromMillis(ts), true
}

// Fresh reports whether a user last seen at lastSeenMs is still present at now.
func Fresh(lastSeenMs int64, now time.Time, staleness time.Duration) bool {
	if staleness <= 0 {
		return true
	}
	return clock.Millis(now)-lastSeenMs <= staleness.Milliseconds()
}

// Active filters members down to fresh users.
func Active(members []string, lastSeen map[string]int64, now time.Time, staleness time.Duration) []string {
	out := make([]string, 0, len(members))
	for _, user := range members {
		ts, ok := lastSeen[user]
		if ok && Fresh(ts, now, staleness) {
			out = append(out, user)
		}
	}
	slices.Sort(out)
	return out
}

// FreshCursors filters cursors down to fresh users.
func FreshCursors(cursors map[string]string, lastSeen map[string]int64, now time.Time, staleness time.Duration) map[string]string {
	out := maps.Clone(cursors)
	if out == nil {
		out = map[string]string{}
	}
	for user := range out {
		ts, ok := lastSeen[user]
		if !ok || !Fresh(ts, now, staleness) {
			delete(out, user)
		}
	}
	return out
}
