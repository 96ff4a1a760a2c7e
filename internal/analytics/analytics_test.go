package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/ir"
)

// midnight is 2024-01-01T00:00:00Z in milliseconds.
const midnight int64 = 1704067200000

const hour = int64(time.Hour / time.Millisecond)

func ev(id, user string, ts int64, data ir.Payload) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: data}
}

func TestAggregateEmpty(t *testing.T) {
	a := Aggregate("r1", nil)

	assert.Equal(t, "r1", a.RunID)
	assert.Zero(t, a.TotalEvents)
	assert.Zero(t, a.UniqueUsers)
	assert.Len(t, a.EventTypeCounts, len(ir.EventTypes))
	assert.Empty(t, a.UserActivity)
	assert.Empty(t, a.MostGraftedCheckpoints)
	assert.Empty(t, a.Conflicts)

	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"conflicts":[]`)
	assert.Contains(t, string(raw), `"userActivity":[]`)
}

func TestAggregateCounts(t *testing.T) {
	events := []ir.Event{
		ev("e1", "alice", midnight+1000, ir.JoinData{}),
		ev("e2", "alice", midnight+2000, ir.GraftData{After: "fetch", AgentName: "lint"}),
		ev("e3", "bob", midnight+3*hour, ir.GraftData{After: "fetch", AgentName: "audit"}),
		ev("e4", "bob", midnight+3*hour+10, ir.GraftData{After: "fetch", AgentName: "lint"}),
		ev("e5", "bob", midnight+5*hour, ir.GraftData{After: "build", AgentName: "cache"}),
		ev("e6", "carol", midnight+23*hour, ir.CursorData{NodeID: "build"}),
		ev("e2", "alice", midnight+2000, ir.GraftData{After: "fetch", AgentName: "lint"}),
	}

	a := Aggregate("r1", events)

	assert.Equal(t, 6, a.TotalEvents, "duplicates count once")
	assert.Equal(t, 3, a.UniqueUsers)
	assert.Equal(t, 4, a.EventTypeCounts[ir.EventGraft])
	assert.Equal(t, 1, a.EventTypeCounts[ir.EventUserJoin])
	assert.Equal(t, 1, a.EventTypeCounts[ir.EventCursorMove])
	assert.Zero(t, a.EventTypeCounts[ir.EventPrune])

	assert.Equal(t, 2, a.HourlyHeatmap[0])
	assert.Equal(t, 2, a.HourlyHeatmap[3])
	assert.Equal(t, 1, a.HourlyHeatmap[5])
	assert.Equal(t, 1, a.HourlyHeatmap[23])

	require.Len(t, a.UserActivity, 3)
	assert.Equal(t, "bob", a.UserActivity[0].UserID)
	assert.Equal(t, 3, a.UserActivity[0].EventCount)
	assert.Equal(t, 2, a.UserActivity[0].Hourly[3])
	assert.Equal(t, "alice", a.UserActivity[1].UserID)
	assert.Equal(t, "carol", a.UserActivity[2].UserID)

	assert.Equal(t, []Checkpoint{
		{StepID: "fetch", Count: 3, AgentNames: []string{"audit", "lint"}},
		{StepID: "build", Count: 1, AgentNames: []string{"cache"}},
	}, a.MostGraftedCheckpoints)
}

func TestAggregateTopCheckpoints(t *testing.T) {
	events := []ir.Event{
		ev("e1", "alice", midnight, ir.GraftData{After: "a", AgentName: "x"}),
		ev("e2", "alice", midnight+1, ir.GraftData{After: "b", AgentName: "x"}),
		ev("e3", "alice", midnight+2, ir.GraftData{After: "b", AgentName: "y"}),
	}

	a := Aggregate("r1", events, WithTopCheckpoints(1))

	require.Len(t, a.MostGraftedCheckpoints, 1)
	assert.Equal(t, "b", a.MostGraftedCheckpoints[0].StepID)
}

func TestConflicts(t *testing.T) {
	tests := []struct {
		name   string
		events []ir.Event
		want   []Conflict
	}{
		{
			name: "concurrent grafts on one anchor",
			events: []ir.Event{
				ev("g1", "alice", midnight, ir.GraftData{After: "fetch", AgentName: "lint"}),
				ev("g2", "bob", midnight+1200, ir.GraftData{After: "fetch", AgentName: "audit"}),
			},
			want: []Conflict{{
				Target: "fetch", EventType: ir.EventGraft,
				First: "g1", FirstUser: "alice", Second: "g2", SecondUser: "bob",
				DeltaMs: 1200, Resolution: ResolutionSlot, Winner: "g2",
			}},
		},
		{
			name: "prune versus restore",
			events: []ir.Event{
				ev("p1", "bob", midnight+10, ir.PruneData{StepID: "build", IsPruned: false}),
				ev("p0", "alice", midnight+10, ir.PruneData{StepID: "build", IsPruned: true}),
			},
			want: []Conflict{{
				Target: "build", EventType: ir.EventPrune,
				First: "p0", FirstUser: "alice", Second: "p1", SecondUser: "bob",
				DeltaMs: 0, Resolution: ResolutionTombstone, Winner: "p1",
			}},
		},
		{
			name: "flags append",
			events: []ir.Event{
				ev("f1", "alice", midnight, ir.FlagData{StepID: "deploy", Note: "a"}),
				ev("f2", "bob", midnight+5000, ir.FlagData{StepID: "deploy", Note: "b"}),
			},
			want: []Conflict{{
				Target: "deploy", EventType: ir.EventFlag,
				First: "f1", FirstUser: "alice", Second: "f2", SecondUser: "bob",
				DeltaMs: 5000, Resolution: ResolutionAppend, Winner: "f2",
			}},
		},
		{
			name: "outside the window",
			events: []ir.Event{
				ev("g1", "alice", midnight, ir.GraftData{After: "fetch", AgentName: "lint"}),
				ev("g2", "bob", midnight+5001, ir.GraftData{After: "fetch", AgentName: "audit"}),
			},
		},
		{
			name: "same user",
			events: []ir.Event{
				ev("g1", "alice", midnight, ir.GraftData{After: "fetch", AgentName: "lint"}),
				ev("g2", "alice", midnight+10, ir.GraftData{After: "fetch", AgentName: "audit"}),
			},
		},
		{
			name: "different targets",
			events: []ir.Event{
				ev("p1", "alice", midnight, ir.PruneData{StepID: "a", IsPruned: true}),
				ev("p2", "bob", midnight, ir.PruneData{StepID: "b", IsPruned: true}),
			},
		},
		{
			name: "graft anchor and prune step do not mix",
			events: []ir.Event{
				ev("g1", "alice", midnight, ir.GraftData{After: "build", AgentName: "lint"}),
				ev("p1", "bob", midnight, ir.PruneData{StepID: "build", IsPruned: true}),
			},
		},
		{
			name: "prune and flag on one step",
			events: []ir.Event{
				ev("f1", "alice", midnight, ir.FlagData{StepID: "build", Note: "flaky"}),
				ev("p1", "bob", midnight+3000, ir.PruneData{StepID: "build", IsPruned: true}),
			},
			want: []Conflict{{
				Target: "build", EventType: ir.EventPrune,
				First: "f1", FirstUser: "alice", Second: "p1", SecondUser: "bob",
				DeltaMs: 3000, Resolution: ResolutionTombstone, Winner: "p1",
			}},
		},
		{
			name: "cursors never conflict",
			events: []ir.Event{
				ev("c1", "alice", midnight, ir.CursorData{NodeID: "build"}),
				ev("c2", "bob", midnight, ir.CursorData{NodeID: "build"}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Aggregate("r1", tt.events)
			if tt.want == nil {
				assert.Empty(t, a.Conflicts)
				return
			}
			assert.Equal(t, tt.want, a.Conflicts)
		})
	}
}

func TestConflictsThreeWay(t *testing.T) {
	events := []ir.Event{
		ev("f1", "alice", midnight, ir.FlagData{StepID: "s", Note: "1"}),
		ev("f2", "bob", midnight+1000, ir.FlagData{StepID: "s", Note: "2"}),
		ev("f3", "carol", midnight+5500, ir.FlagData{StepID: "s", Note: "3"}),
	}

	got := Conflicts(events, DefaultConflictWindow)

	require.Len(t, got, 2)
	assert.Equal(t, [2]string{"f1", "f2"}, [2]string{got[0].First, got[0].Second})
	assert.Equal(t, [2]string{"f2", "f3"}, [2]string{got[1].First, got[1].Second})
	assert.Equal(t, int64(4500), got[1].DeltaMs)
}

func TestConflictWindowOption(t *testing.T) {
	events := []ir.Event{
		ev("g1", "alice", midnight, ir.GraftData{After: "fetch", AgentName: "lint"}),
		ev("g2", "bob", midnight+8000, ir.GraftData{After: "fetch", AgentName: "audit"}),
	}

	assert.Empty(t, Aggregate("r1", events).Conflicts)
	assert.Len(t, Aggregate("r1", events, WithConflictWindow(10*time.Second)).Conflicts, 1)
}
