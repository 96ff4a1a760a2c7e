// Package notify turns remote collaboration events into short-lived,
// human-readable notices.
package notify

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/roach88/runcollab/internal/clock"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/timers"
)

const (
	// DefaultLimit is the maximum number of visible notices.
	DefaultLimit = 10
	// DefaultTimeout is how long a notice stays visible.
	DefaultTimeout = 5 * time.Second
	// NoteRunes is the longest flag note shown before truncation.
	NoteRunes = 60
	// NameRunes is the longest user, step or agent name shown before
	// truncation.
	NameRunes = 40
)

// Notice is one visible notification.
type Notice struct {
	ID        string       `json:"id"`
	EventID   string       `json:"eventId"`
	UserID    string       `json:"userId"`
	EventType ir.EventType `json:"eventType"`
	Text      string       `json:"text"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Option configures a Center.
type Option func(*Center)

// WithLimit sets the maximum number of visible notices.
func WithLimit(n int) Option {
	return func(c *Center) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithTimeout sets the auto-dismiss delay.
func WithTimeout(d time.Duration) Option {
	return func(c *Center) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Center holds the visible notices of one engine.
//
// Oldest notices are evicted once the limit is reached; each notice
// auto-dismisses after the timeout. Dismissal by either path is idempotent.
//
// Thread-safety: Center is safe for concurrent use via internal mutex.
type Center struct {
	self    string
	clock   clock.Clock
	arena   *timers.Arena
	limit   int
	timeout time.Duration

	mu      sync.Mutex
	notices []Notice
	seq     int
	since   int64
}

// NewCenter creates a notice center for the local user self.
func NewCenter(self string, clk clock.Clock, arena *timers.Arena, opts ...Option) *Center {
	c := &Center{
		self:    self,
		clock:   clk,
		arena:   arena,
		limit:   DefaultLimit,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe derives a notice for a newly applied event. wasActive is whether
// the author was in the membership set before the event was applied; it
// suppresses joins from users already present and leaves from users who
// were not.
func (c *Center) Observe(ev ir.Event, wasActive bool) (Notice, bool) {
	if ev.UserID == c.self {
		return Notice{}, false
	}
	c.mu.Lock()
	since := c.since
	c.mu.Unlock()
	if ev.Timestamp < since {
		return Notice{}, false
	}
	switch ev.Type() {
	case ir.EventCursorMove:
		return Notice{}, false
	case ir.EventUserJoin:
		if wasActive {
			return Notice{}, false
		}
	case ir.EventUserLeave:
		if !wasActive {
			return Notice{}, false
		}
	}

	text := Describe(ev)
	if text == "" {
		return Notice{}, false
	}

	c.mu.Lock()
	c.seq++
	n := Notice{
		ID:        fmt.Sprintf("notice-%d", c.seq),
		EventID:   ev.ID,
		UserID:    ev.UserID,
		EventType: ev.Type(),
		Text:      text,
		CreatedAt: c.clock.Now(),
	}
	c.notices = append(c.notices, n)
	var evicted []string
	for len(c.notices) > c.limit {
		evicted = append(evicted, c.notices[0].ID)
		c.notices = c.notices[1:]
	}
	c.mu.Unlock()

	for _, id := range evicted {
		c.arena.Cancel(timerKey(id))
	}
	c.arena.Schedule(timerKey(n.ID), c.timeout, func() {
		c.Dismiss(n.ID)
	})

	slog.Debug("notice raised", "notice_id", n.ID, "event_id", ev.ID, "text", text)
	return n, true
}

// Since stops notices for events stamped earlier than t minus the timeout.
// Backlog replayed after opening a run at t is folded silently.
func (c *Center) Since(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.since = clock.Millis(t.Add(-c.timeout))
}

// Notices returns the visible notices, oldest first.
func (c *Center) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.notices)
}

// Dismiss removes a notice. Dismissing an unknown or already-dismissed
// notice is a no-op that returns false.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	idx := slices.IndexFunc(c.notices, func(n Notice) bool { return n.ID == id })
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.notices = slices.Delete(c.notices, idx, idx+1)
	c.mu.Unlock()

	c.arena.Cancel(timerKey(id))
	return true
}

// Reset drops every notice and its timer, and clears Since.
func (c *Center) Reset() {
	c.mu.Lock()
	ids := make([]string, len(c.notices))
	for i, n := range c.notices {
		ids[i] = n.ID
	}
	c.notices = nil
	c.since = 0
	c.mu.Unlock()

	for _, id := range ids {
		c.arena.Cancel(timerKey(id))
	}
}

func timerKey(id string) string {
	return "notice/" + id
}

// Describe renders the notice text for ev, or "" for events that never
// produce one.
func Describe(ev ir.Event) string {
	user := name(ev.UserID)
	switch d := ev.Data.(type) {
	case ir.GraftData:
		return fmt.Sprintf("%s grafted %s after %s", user, name(d.AgentName), name(d.After))
	case ir.PruneData:
		if d.IsPruned {
			return fmt.Sprintf("%s pruned %s", user, name(d.StepID))
		}
		return fmt.Sprintf("%s restored %s", user, name(d.StepID))
	case ir.FlagData:
		if d.Note == "" {
			return fmt.Sprintf("%s flagged %s", user, name(d.StepID))
		}
		return fmt.Sprintf("%s flagged %s: %s", user, name(d.StepID), Truncate(d.Note, NoteRunes))
	case ir.JoinData:
		return user + " joined"
	case ir.LeaveData:
		return user + " left"
	default:
		return ""
	}
}

func name(s string) string {
	return Truncate(s, NameRunes)
}

// Truncate shortens s to at most n runes, marking the cut with "…".
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
