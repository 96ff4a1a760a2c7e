package eventlog

import (
	"maps"
	"slices"

	"github.com/roach88/runcollab/internal/ir"
)

// State is RunCollaborationState: the fold of a log.
//
// Sets are rendered as sorted slices. A State returned by this package is
// a deep copy; callers may mutate it freely.
type State struct {
	GraftOrder  []string            `json:"graftOrder"`
	PrunedSteps []string            `json:"prunedSteps"`
	Flags       map[string][]string `json:"flags"`
	ActiveUsers []string            `json:"activeUsers"`
	Cursors     map[string]string   `json:"cursors"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	flags := make(map[string][]string, len(s.Flags))
	for step, notes := range s.Flags {
		flags[step] = slices.Clone(notes)
	}
	cursors := maps.Clone(s.Cursors)
	if cursors == nil {
		cursors = map[string]string{}
	}
	return State{
		GraftOrder:  nonNil(slices.Clone(s.GraftOrder)),
		PrunedSteps: nonNil(slices.Clone(s.PrunedSteps)),
		Flags:       flags,
		ActiveUsers: nonNil(slices.Clone(s.ActiveUsers)),
		Cursors:     cursors,
	}
}

// Equal reports whether two states are identical.
func (s State) Equal(o State) bool {
	if !slices.Equal(s.GraftOrder, o.GraftOrder) ||
		!slices.Equal(s.PrunedSteps, o.PrunedSteps) ||
		!slices.Equal(s.ActiveUsers, o.ActiveUsers) ||
		!maps.Equal(s.Cursors, o.Cursors) {
		return false
	}
	return maps.EqualFunc(s.Flags, o.Flags, func(a, b []string) bool { return slices.Equal(a, b) })
}

// Canonical renders s as RFC 8785 canonical JSON, the form used for
// golden files and cross-replica comparison.
func (s State) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.Fields())
}

// Fields returns s as plain JSON values keyed by wire name.
func (s State) Fields() map[string]any {
	flags := make(map[string]any, len(s.Flags))
	for step, notes := range s.Flags {
		flags[step] = nonNil(slices.Clone(notes))
	}
	cursors := make(map[string]any, len(s.Cursors))
	for user, node := range s.Cursors {
		cursors[user] = node
	}
	return map[string]any{
		"graftOrder":  nonNil(slices.Clone(s.GraftOrder)),
		"prunedSteps": nonNil(slices.Clone(s.PrunedSteps)),
		"flags":       flags,
		"activeUsers": nonNil(slices.Clone(s.ActiveUsers)),
		"cursors":     cursors,
	}
}

// StateKeys lists the top-level keys of State in wire order.
var StateKeys = []string{"graftOrder", "prunedSteps", "flags", "activeUsers", "cursors"}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// folder accumulates State one event at a time.
type folder struct {
	order   []string
	pruned  map[string]bool
	flags   map[string][]string
	active  map[string]struct{}
	cursors map[string]string
}

func newFolder(base []string) *folder {
	return &folder{
		order:   slices.Clone(base),
		pruned:  make(map[string]bool),
		flags:   make(map[string][]string),
		active:  make(map[string]struct{}),
		cursors: make(map[string]string),
	}
}

func (f *folder) apply(ev ir.Event) {
	switch d := ev.Data.(type) {
	case ir.GraftData:
		idx := slices.Index(f.order, d.After)
		if idx < 0 {
			f.order = append(f.order, d.After)
			idx = len(f.order) - 1
		}
		f.order = slices.Insert(f.order, idx+1, d.AgentName)
	case ir.PruneData:
		f.pruned[d.StepID] = d.IsPruned
	case ir.FlagData:
		f.flags[d.StepID] = append(f.flags[d.StepID], d.Note)
	case ir.JoinData:
		f.active[ev.UserID] = struct{}{}
	case ir.LeaveData:
		delete(f.active, ev.UserID)
		delete(f.cursors, ev.UserID)
	case ir.CursorData:
		f.cursors[ev.UserID] = d.NodeID
	}
}

func (f *folder) state() State {
	pruned := make([]string, 0, len(f.pruned))
	for step, on := range f.pruned {
		if on {
			pruned = append(pruned, step)
		}
	}
	slices.Sort(pruned)

	active := make([]string, 0, len(f.active))
	for user := range f.active {
		active = append(active, user)
	}
	slices.Sort(active)

	flags := make(map[string][]string, len(f.flags))
	for step, notes := range f.flags {
		flags[step] = slices.Clone(notes)
	}

	return State{
		GraftOrder:  nonNil(slices.Clone(f.order)),
		PrunedSteps: pruned,
		Flags:       flags,
		ActiveUsers: active,
		Cursors:     maps.Clone(f.cursors),
	}
}

// Order returns events de-duplicated by id and sorted in deterministic
// order. The first occurrence of an id wins.
func Order(events []ir.Event) []ir.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]ir.Event, 0, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	slices.SortStableFunc(out, ir.Compare)
	return out
}

// Replay folds events in deterministic order on top of base, calling fn
// with the state before and after each event. It does not touch metrics,
// so it is safe for history tooling.
func Replay(base []string, events []ir.Event, fn func(i int, ev ir.Event, before, after State)) {
	f := newFolder(base)
	before := f.state()
	for i, ev := range Order(events) {
		f.apply(ev)
		after := f.state()
		fn(i, ev, before, after)
		before = after
	}
}

// Fold computes the state of events applied in deterministic order on top
// of base. events need not be sorted or unique.
func Fold(base []string, events []ir.Event) State {
	l := New(WithBase(base))
	for _, ev := range events {
		l.Apply(ev)
	}
	return l.Snapshot()
}
