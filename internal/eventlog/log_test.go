package eventlog

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/ir"
)

func graft(id, user string, ts int64, after, agent string) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.GraftData{After: after, AgentName: agent}}
}

func prune(id, user string, ts int64, step string, on bool) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.PruneData{StepID: step, IsPruned: on}}
}

func flag(id, user string, ts int64, step, note string) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.FlagData{StepID: step, Note: note}}
}

func join(id, user string, ts int64) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.JoinData{}}
}

func leave(id, user string, ts int64) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.LeaveData{}}
}

func cursor(id, user string, ts int64, node string) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.CursorData{NodeID: node}}
}

func TestLog_EmptyState(t *testing.T) {
	st := New().Snapshot()

	assert.Equal(t, []string{}, st.GraftOrder)
	assert.Equal(t, []string{}, st.PrunedSteps)
	assert.Equal(t, []string{}, st.ActiveUsers)
	assert.Empty(t, st.Flags)
	assert.Empty(t, st.Cursors)

	raw, err := st.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"activeUsers":[],"cursors":{},"flags":{},"graftOrder":[],"prunedSteps":[]}`, string(raw))
}

func TestLog_ApplyIsIdempotent(t *testing.T) {
	l := New()
	ev := graft("e1", "alice", 100, "planner", "critic")

	assert.True(t, l.Apply(ev))
	before := l.Snapshot()

	assert.False(t, l.Apply(ev), "second apply is a no-op")
	assert.Equal(t, 1, l.Len())
	assert.True(t, before.Equal(l.Snapshot()))
	assert.True(t, l.Has("e1"))
}

func TestLog_ConcurrentGraftsOnSameAnchor(t *testing.T) {
	l := New()
	l.Apply(graft("e2", "bob", 100, "planner", "summarizer"))
	l.Apply(graft("e1", "alice", 100, "planner", "critic"))

	// alice < bob at equal timestamps, so bob's graft is applied last and
	// sits closest to the anchor. Both are retained.
	assert.Equal(t, []string{"planner", "summarizer", "critic"}, l.Snapshot().GraftOrder)
	assert.Equal(t, 2, l.Len())
}

func TestLog_GraftUsesBasePipeline(t *testing.T) {
	l := New(WithBase([]string{"fetch", "plan", "write"}))
	l.Apply(graft("e1", "alice", 1, "plan", "review"))
	l.Apply(graft("e2", "alice", 2, "missing", "extra"))

	assert.Equal(t, []string{"fetch", "plan", "review", "write", "missing", "extra"}, l.Snapshot().GraftOrder)
}

func TestLog_PruneAndRestore(t *testing.T) {
	l := New()
	l.Apply(prune("e1", "alice", 100, "s1", true))
	assert.Equal(t, []string{"s1"}, l.Snapshot().PrunedSteps)

	l.Apply(prune("e2", "bob", 200, "s1", false))
	assert.Equal(t, []string{}, l.Snapshot().PrunedSteps)

	// A late-arriving older prune does not override the newer restore.
	l.Apply(prune("e0", "carol", 150, "s1", true))
	assert.Equal(t, []string{}, l.Snapshot().PrunedSteps)
	assert.Equal(t, 3, l.Len(), "all prune events retained")
}

func TestLog_FlagsAppendInLogOrder(t *testing.T) {
	l := New()
	l.Apply(flag("e2", "bob", 200, "s1", "second"))
	l.Apply(flag("e1", "alice", 100, "s1", "first"))
	l.Apply(flag("e3", "alice", 300, "s2", ""))

	st := l.Snapshot()
	assert.Equal(t, []string{"first", "second"}, st.Flags["s1"])
	assert.Equal(t, []string{""}, st.Flags["s2"])
}

func TestLog_PresenceIgnoresPayloadSnapshot(t *testing.T) {
	l := New()
	l.Apply(ir.Event{ID: "e1", UserID: "alice", Timestamp: 1, Data: ir.JoinData{ActiveUsers: []string{"mallory", "alice"}}})
	l.Apply(join("e2", "bob", 2))

	assert.Equal(t, []string{"alice", "bob"}, l.Snapshot().ActiveUsers)
	assert.True(t, l.IsActive("bob"))
	assert.False(t, l.IsActive("mallory"))

	l.Apply(leave("e3", "alice", 3))
	assert.Equal(t, []string{"bob"}, l.Snapshot().ActiveUsers)
}

func TestLog_LeaveDropsCursor(t *testing.T) {
	l := New()
	l.Apply(join("e1", "alice", 1))
	l.Apply(cursor("e2", "alice", 2, "n1"))
	l.Apply(cursor("e3", "bob", 3, "n2"))
	l.Apply(cursor("e4", "bob", 4, "n3"))
	assert.Equal(t, map[string]string{"alice": "n1", "bob": "n3"}, l.Snapshot().Cursors)

	l.Apply(leave("e5", "alice", 5))
	assert.Equal(t, map[string]string{"bob": "n3"}, l.Snapshot().Cursors)
}

func TestLog_ConvergesRegardlessOfArrivalOrder(t *testing.T) {
	events := []ir.Event{
		join("j1", "alice", 10),
		join("j2", "bob", 11),
		graft("g1", "alice", 20, "planner", "critic"),
		graft("g2", "bob", 20, "planner", "summarizer"),
		graft("g3", "bob", 25, "critic", "judge"),
		prune("p1", "alice", 30, "critic", true),
		prune("p2", "bob", 31, "critic", false),
		prune("p3", "bob", 32, "judge", true),
		flag("f1", "alice", 40, "planner", "slow"),
		flag("f2", "bob", 40, "planner", "flaky"),
		cursor("c1", "alice", 50, "judge"),
		cursor("c2", "bob", 51, "critic"),
		leave("l1", "bob", 60),
	}

	want := Fold(nil, events)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		shuffled := append([]ir.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		l := New()
		for _, ev := range shuffled {
			l.Apply(ev)
			if rng.Intn(3) == 0 {
				l.Apply(ev) // duplicate delivery
			}
		}
		require.True(t, want.Equal(l.Snapshot()), "permutation %d diverged", i)
	}

	assert.Equal(t, []string{"planner", "summarizer", "critic", "judge"}, want.GraftOrder)
	assert.Equal(t, []string{"judge"}, want.PrunedSteps)
	assert.Equal(t, []string{"alice"}, want.ActiveUsers)
	assert.Equal(t, map[string]string{"alice": "judge"}, want.Cursors)
	assert.Equal(t, []string{"slow", "flaky"}, want.Flags["planner"])
}

func TestLog_AllIsSorted(t *testing.T) {
	l := New()
	l.Apply(join("b", "zed", 5))
	l.Apply(join("a", "amy", 5))
	l.Apply(join("c", "amy", 1))

	var ids []string
	for _, ev := range l.All() {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestLog_FiveHundredSequentialGrafts(t *testing.T) {
	l := New(WithBase([]string{"start"}))
	prev := "start"
	for i := 1; i <= 500; i++ {
		agent := fmt.Sprintf("agent-%03d", i)
		require.True(t, l.Apply(graft(fmt.Sprintf("g%03d", i), "alice", int64(i), prev, agent)))
		prev = agent
	}

	st := l.Snapshot()
	require.Len(t, st.GraftOrder, 501)
	assert.Equal(t, "agent-001", st.GraftOrder[1])
	assert.Equal(t, "agent-500", st.GraftOrder[500])

	seen := map[string]bool{}
	for _, step := range st.GraftOrder {
		assert.False(t, seen[step], "duplicate %s", step)
		seen[step] = true
	}
}

func TestLog_ApplyRawRejectsBadInput(t *testing.T) {
	l := New(WithRunID("r1"))
	l.Apply(join("e1", "alice", 1))
	before := l.Snapshot()

	for _, raw := range []string{
		`not json`,
		`{"eventId":"x","eventType":"MERGE","userId":"a","timestamp":1,"data":{}}`,
		`{"eventId":"x","eventType":"GRAFT","userId":"a","timestamp":1,"data":{"after":"s"}}`,
	} {
		_, ok := l.ApplyRaw([]byte(raw))
		assert.False(t, ok, raw)
	}

	assert.Equal(t, 1, l.Len())
	assert.True(t, before.Equal(l.Snapshot()))
}

func TestLog_ApplyRawAccepts(t *testing.T) {
	l := New()
	raw, err := json.Marshal(flag("e1", "alice", 1, "s1", "note"))
	require.NoError(t, err)

	ev, ok := l.ApplyRaw(raw)
	require.True(t, ok)
	assert.Equal(t, "e1", ev.ID)

	_, ok = l.ApplyRaw(raw)
	assert.False(t, ok, "redelivery is de-duplicated")
}

func TestLog_ApplyRejectsInvalidEvent(t *testing.T) {
	l := New()
	assert.False(t, l.Apply(ir.Event{ID: "e1", UserID: "alice", Timestamp: 1, Data: ir.CursorData{}}))
	assert.Equal(t, 0, l.Len())
}

func TestLog_SnapshotIsDeepCopy(t *testing.T) {
	l := New()
	l.Apply(flag("e1", "alice", 1, "s1", "note"))
	l.Apply(cursor("e2", "alice", 2, "n1"))

	st := l.Snapshot()
	st.Flags["s1"][0] = "tampered"
	st.Cursors["alice"] = "tampered"

	fresh := l.Snapshot()
	assert.Equal(t, "note", fresh.Flags["s1"][0])
	assert.Equal(t, "n1", fresh.Cursors["alice"])
}

func TestLog_LastSeenAndReset(t *testing.T) {
	l := New()
	l.Apply(join("e1", "alice", 100))
	l.Apply(cursor("e2", "alice", 250, "n1"))
	l.Apply(cursor("e3", "alice", 200, "n2"))

	assert.Equal(t, map[string]int64{"alice": 250}, l.LastSeen())

	l.Reset()
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.LastSeen())
	assert.False(t, l.Has("e1"))
}

func TestStateClone(t *testing.T) {
	st := State{
		GraftOrder: []string{"a"},
		Flags:      map[string][]string{"a": {"n"}},
		Cursors:    map[string]string{"u": "a"},
	}
	cp := st.Clone()
	cp.GraftOrder[0] = "x"
	cp.Flags["a"][0] = "x"

	assert.Equal(t, "a", st.GraftOrder[0])
	assert.Equal(t, "n", st.Flags["a"][0])
	assert.Equal(t, []string{}, cp.PrunedSteps)
}

func TestOrderDeduplicatesAndSorts(t *testing.T) {
	events := []ir.Event{
		graft("e3", "bob", 300, "a", "c"),
		graft("e1", "alice", 100, "a", "b"),
		graft("e3", "bob", 300, "a", "c"),
		graft("e2", "alice", 100, "a", "x"),
	}

	got := Order(events)

	ids := make([]string, len(got))
	for i, ev := range got {
		ids[i] = ev.ID
	}
	assert.Equal(t, []string{"e1", "e2", "e3"}, ids)
}

func TestReplayChainsStates(t *testing.T) {
	events := []ir.Event{
		join("j1", "alice", 100),
		graft("g1", "alice", 200, "planner", "critic"),
		prune("p1", "bob", 300, "critic", true),
		flag("f1", "bob", 400, "planner", "slow"),
		leave("l1", "alice", 500),
	}

	var afters []State
	var prev *State
	Replay([]string{"planner"}, events, func(i int, ev ir.Event, before, after State) {
		assert.Equal(t, events[i].ID, ev.ID)
		if prev != nil {
			assert.True(t, prev.Equal(before), "before of %d is after of %d", i, i-1)
		}
		afters = append(afters, after)
		prev = &afters[len(afters)-1]
	})

	require.Len(t, afters, 5)
	assert.True(t, afters[4].Equal(Fold([]string{"planner"}, events)))
	assert.Equal(t, []string{"planner", "critic"}, afters[1].GraftOrder)
	assert.Empty(t, afters[4].ActiveUsers)
}
