package eventlog

import (
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/runcollab/internal/ir"
)

// Option configures a Log.
type Option func(*Log)

// WithBase seeds graftOrder with the run's base pipeline.
func WithBase(steps []string) Option {
	return func(l *Log) {
		l.base = slices.Clone(steps)
	}
}

// WithRunID tags log lines with the run id.
func WithRunID(runID string) Option {
	return func(l *Log) {
		l.runID = runID
	}
}

// Log is the de-duplicated, deterministically ordered event log of one run.
//
// Appends that sort after the current tail fold incrementally; an
// out-of-order arrival marks the fold dirty and the next read refolds from
// the base. Either way the state equals Fold(base, All()).
//
// Thread-safety: Log is safe for concurrent use via internal mutex. The
// engine serializes access anyway; the mutex keeps standalone uses such as
// the server and time-travel tooling safe.
type Log struct {
	mu       sync.Mutex
	runID    string
	base     []string
	events   []ir.Event
	ids      map[string]struct{}
	lastSeen map[string]int64
	fold     *folder
	dirty    bool
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{}
	for _, opt := range opts {
		opt(l)
	}
	l.resetLocked()
	return l
}

func (l *Log) resetLocked() {
	l.events = nil
	l.ids = make(map[string]struct{})
	l.lastSeen = make(map[string]int64)
	l.fold = newFolder(l.base)
	l.dirty = false
}

// Reset discards every event, returning the log to its initial state.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

// Apply appends ev if its id is new. Returns false for duplicates and for
// events that fail validation; neither changes state.
func (l *Log) Apply(ev ir.Event) bool {
	if err := ev.Validate(); err != nil {
		l.Reject(err)
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.ids[ev.ID]; dup {
		eventsDuplicateTotal.Inc()
		slog.Debug("duplicate event ignored", "run_id", l.runID, "event_id", ev.ID)
		return false
	}
	l.ids[ev.ID] = struct{}{}

	pos := sort.Search(len(l.events), func(i int) bool {
		return ir.Less(ev, l.events[i])
	})
	l.events = slices.Insert(l.events, pos, ev)

	if pos == len(l.events)-1 && !l.dirty {
		l.fold.apply(ev)
	} else {
		l.dirty = true
	}

	if ev.Timestamp > l.lastSeen[ev.UserID] {
		l.lastSeen[ev.UserID] = ev.Timestamp
	}

	eventsAppliedTotal.WithLabelValues(string(ev.Type())).Inc()
	slog.Debug("event applied",
		"run_id", l.runID,
		"event_id", ev.ID,
		"event_type", ev.Type(),
		"user_id", ev.UserID,
		"timestamp", ev.Timestamp)
	return true
}

// ApplyRaw decodes a wire message and applies it. Malformed, unknown or
// incomplete messages are logged, counted and dropped.
func (l *Log) ApplyRaw(raw []byte) (ir.Event, bool) {
	ev, err := ir.DecodeEvent(raw)
	if err != nil {
		l.Reject(err)
		return ir.Event{}, false
	}
	return ev, l.Apply(ev)
}

// Reject logs and counts a message that failed decoding elsewhere.
func (l *Log) Reject(err error) {
	code := ir.ErrorCode(err)
	if code == "" {
		code = ir.ErrCodeMalformedPayload
	}
	eventsRejectedTotal.WithLabelValues(string(code)).Inc()
	slog.Warn("event rejected", "run_id", l.runID, "code", code, "error", err)
}

// Has reports whether an event with id has been applied.
func (l *Log) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// All returns the events in deterministic order.
func (l *Log) All() []ir.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Snapshot returns a deep copy of the folded state.
func (l *Log) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dirty {
		refoldsTotal.Inc()
		l.fold = newFolder(l.base)
		for _, ev := range l.events {
			l.fold.apply(ev)
		}
		l.dirty = false
	}
	return l.fold.state()
}

// IsActive reports whether user is in the folded membership set.
func (l *Log) IsActive(user string) bool {
	st := l.Snapshot()
	_, found := slices.BinarySearch(st.ActiveUsers, user)
	return found
}

// LastSeen returns the latest event timestamp per user.
func (l *Log) LastSeen() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int64, len(l.lastSeen))
	for user, ts := range l.lastSeen {
		out[user] = ts
	}
	return out
}
