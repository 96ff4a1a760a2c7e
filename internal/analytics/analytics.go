// Package analytics summarizes a closed collaboration log: counts, hourly
// heatmaps, the most-grafted checkpoints and the conflicts the merge rules
// resolved.
package analytics

import (
	"cmp"
	"slices"
	"time"

	"github.com/roach88/runcollab/internal/eventlog"
	"github.com/roach88/runcollab/internal/ir"
)

const (
	// DefaultConflictWindow is how close two edits on one target must be
	// to count as a conflict.
	DefaultConflictWindow = 5 * time.Second

	// DefaultTopCheckpoints bounds MostGraftedCheckpoints.
	DefaultTopCheckpoints = 10
)

// Resolution names the merge rule that decided a conflict.
type Resolution string

const (
	// ResolutionSlot: both grafts kept, the later one closest to the anchor.
	ResolutionSlot Resolution = "last-write-wins-slot"
	// ResolutionTombstone: the later prune bit wins.
	ResolutionTombstone Resolution = "tombstone-lww"
	// ResolutionAppend: both notes kept in log order.
	ResolutionAppend Resolution = "append"
)

// Analytics is the aggregate of one run's log.
type Analytics struct {
	RunID                  string               `json:"runId"`
	TotalEvents            int                  `json:"totalEvents"`
	UniqueUsers            int                  `json:"uniqueUsers"`
	EventTypeCounts        map[ir.EventType]int `json:"eventTypeCounts"`
	UserActivity           []UserActivity       `json:"userActivity"`
	HourlyHeatmap          [24]int              `json:"hourlyHeatmap"`
	MostGraftedCheckpoints []Checkpoint         `json:"mostGraftedCheckpoints"`
	Conflicts              []Conflict           `json:"conflicts"`
}

// UserActivity counts one user's events, in total and per UTC hour.
type UserActivity struct {
	UserID     string  `json:"userId"`
	EventCount int     `json:"eventCount"`
	Hourly     [24]int `json:"hourly"`
}

// Checkpoint is a step other agents were grafted after.
type Checkpoint struct {
	StepID     string   `json:"stepId"`
	Count      int      `json:"count"`
	AgentNames []string `json:"agentNames"`
}

// Conflict is a pair of edits of the same kind on the same target, by
// different users, close together in time. Second is the winner.
type Conflict struct {
	Target     string       `json:"target"`
	EventType  ir.EventType `json:"eventType"`
	First      string       `json:"first"`
	FirstUser  string       `json:"firstUser"`
	Second     string       `json:"second"`
	SecondUser string       `json:"secondUser"`
	DeltaMs    int64        `json:"deltaMs"`
	Resolution Resolution   `json:"resolution"`
	Winner     string       `json:"winner"`
}

type options struct {
	window time.Duration
	top    int
}

// Option tunes Aggregate.
type Option func(*options)

// WithConflictWindow overrides DefaultConflictWindow.
func WithConflictWindow(d time.Duration) Option {
	return func(o *options) {
		o.window = d
	}
}

// WithTopCheckpoints overrides DefaultTopCheckpoints. Zero or less means
// no limit.
func WithTopCheckpoints(n int) Option {
	return func(o *options) {
		o.top = n
	}
}

// Aggregate computes the analytics of a closed log. events may be unsorted
// and contain duplicates.
func Aggregate(runID string, events []ir.Event, opts ...Option) Analytics {
	o := options{window: DefaultConflictWindow, top: DefaultTopCheckpoints}
	for _, opt := range opts {
		opt(&o)
	}

	ordered := eventlog.Order(events)
	out := Analytics{
		RunID:           runID,
		TotalEvents:     len(ordered),
		EventTypeCounts: make(map[ir.EventType]int, len(ir.EventTypes)),
	}
	for _, t := range ir.EventTypes {
		out.EventTypeCounts[t] = 0
	}

	users := make(map[string]*UserActivity)
	grafted := make(map[string]*Checkpoint)
	for _, ev := range ordered {
		hour := time.UnixMilli(ev.Timestamp).UTC().Hour()
		out.EventTypeCounts[ev.Type()]++
		out.HourlyHeatmap[hour]++

		ua, ok := users[ev.UserID]
		if !ok {
			ua = &UserActivity{UserID: ev.UserID}
			users[ev.UserID] = ua
		}
		ua.EventCount++
		ua.Hourly[hour]++

		if g, ok := ev.Data.(ir.GraftData); ok {
			cp, ok := grafted[g.After]
			if !ok {
				cp = &Checkpoint{StepID: g.After}
				grafted[g.After] = cp
			}
			cp.Count++
			if !slices.Contains(cp.AgentNames, g.AgentName) {
				cp.AgentNames = append(cp.AgentNames, g.AgentName)
			}
		}
	}

	out.UniqueUsers = len(users)
	out.UserActivity = make([]UserActivity, 0, len(users))
	for _, ua := range users {
		out.UserActivity = append(out.UserActivity, *ua)
	}
	slices.SortFunc(out.UserActivity, func(a, b UserActivity) int {
		if c := cmp.Compare(b.EventCount, a.EventCount); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})

	out.MostGraftedCheckpoints = make([]Checkpoint, 0, len(grafted))
	for _, cp := range grafted {
		slices.Sort(cp.AgentNames)
		out.MostGraftedCheckpoints = append(out.MostGraftedCheckpoints, *cp)
	}
	slices.SortFunc(out.MostGraftedCheckpoints, func(a, b Checkpoint) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.StepID, b.StepID)
	})
	if o.top > 0 && len(out.MostGraftedCheckpoints) > o.top {
		out.MostGraftedCheckpoints = out.MostGraftedCheckpoints[:o.top]
	}

	out.Conflicts = Conflicts(ordered, o.window)
	return out
}

// resolutionFor returns the merge rule for an edit type, or false for
// types that never conflict.
func resolutionFor(t ir.EventType) (Resolution, bool) {
	switch t {
	case ir.EventGraft:
		return ResolutionSlot, true
	case ir.EventPrune:
		return ResolutionTombstone, true
	case ir.EventFlag:
		return ResolutionAppend, true
	default:
		return "", false
	}
}

// targetKey groups edits that touch the same thing: a graft anchor, or a
// step that PRUNE and FLAG both address by stepId.
type targetKey struct {
	anchor bool
	target string
}

// Conflicts finds every pair of GRAFT, PRUNE or FLAG events on the same
// target from different users at most window apart. A PRUNE and a FLAG on one
// step conflict with each other; graft anchors are a separate target space.
// Each pair is labelled with the later event's type and merge rule. events
// must already be in deterministic order; pairs come back in the order of
// their second event then their first.
func Conflicts(events []ir.Event, window time.Duration) []Conflict {
	groups := make(map[targetKey][]ir.Event)
	var keys []targetKey
	for _, ev := range events {
		if _, ok := resolutionFor(ev.Type()); !ok {
			continue
		}
		k := targetKey{ev.Type() == ir.EventGraft, ev.Target()}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], ev)
	}

	limit := window.Milliseconds()
	type pair struct {
		first, second ir.Event
	}
	var pairs []pair
	for _, k := range keys {
		group := groups[k]
		for j := 1; j < len(group); j++ {
			for i := j - 1; i >= 0; i-- {
				delta := group[j].Timestamp - group[i].Timestamp
				if delta > limit {
					break
				}
				if group[i].UserID == group[j].UserID {
					continue
				}
				pairs = append(pairs, pair{group[i], group[j]})
			}
		}
	}

	slices.SortFunc(pairs, func(a, b pair) int {
		if c := ir.Compare(a.second, b.second); c != 0 {
			return c
		}
		return ir.Compare(a.first, b.first)
	})

	out := make([]Conflict, 0, len(pairs))
	for _, p := range pairs {
		res, _ := resolutionFor(p.second.Type())
		out = append(out, Conflict{
			Target:     p.second.Target(),
			EventType:  p.second.Type(),
			First:      p.first.ID,
			FirstUser:  p.first.UserID,
			Second:     p.second.ID,
			SecondUser: p.second.UserID,
			DeltaMs:    p.second.Timestamp - p.first.Timestamp,
			Resolution: res,
			Winner:     p.second.ID,
		})
	}
	return out
}
