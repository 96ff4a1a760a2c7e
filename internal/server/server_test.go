package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/roach88/runcollab/internal/analytics"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/store"
	"github.com/roach88/runcollab/internal/testutil"
	"github.com/roach88/runcollab/internal/timetravel"
	"github.com/roach88/runcollab/internal/transport"
)

const (
	testMaxFrame = 1024
	recvTimeout  = 2 * time.Second
)

type testEnv struct {
	store *store.Store
	http  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "runcollab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := testutil.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	srv := New(st, WithClock(clk), WithMaxFrameBytes(testMaxFrame))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{store: st, http: hs}
}

func (env *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
}

func (env *testEnv) dial(t *testing.T) transport.Session {
	t.Helper()
	sess, err := transport.WebsocketDialer{URL: env.wsURL()}.Dial(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func (env *testEnv) seed(t *testing.T, runID string, events ...ir.Event) {
	t.Helper()
	for _, ev := range events {
		inserted, err := env.store.AppendEvent(context.Background(), runID, ev, ev.Timestamp)
		require.NoError(t, err)
		require.True(t, inserted)
	}
}

func receive(t *testing.T, sess transport.Session) transport.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), recvTimeout)
	defer cancel()
	f, err := sess.Receive(ctx)
	require.NoError(t, err)
	return f
}

// receiveUntil reads message frames until it sees eventID and returns the
// ids seen, in order.
func receiveUntil(t *testing.T, sess transport.Session, eventID string) []string {
	t.Helper()
	var ids []string
	for {
		f := receive(t, sess)
		require.Equal(t, transport.FrameMessage, f.Type, "unexpected frame %s", f.Payload)
		ev, err := ir.DecodeEvent(f.Payload)
		require.NoError(t, err)
		ids = append(ids, ev.ID)
		if ev.ID == eventID {
			return ids
		}
	}
}

func publish(t *testing.T, sess transport.Session, runID string, ev ir.Event) {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, sess.Publish(transport.PublishTopic(runID, ev.Type()), payload))
}

// join subscribes sess to runID and waits until the server has processed
// the subscription, by publishing a join and reading it back.
func join(t *testing.T, sess transport.Session, runID, user string, ts int64) {
	t.Helper()
	require.NoError(t, sess.Subscribe(transport.CollaborationTopic(runID)))
	ev := joinEvent(user+"-join", user, ts)
	publish(t, sess, runID, ev)
	receiveUntil(t, sess, ev.ID)
}

func joinEvent(id, user string, ts int64) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.JoinData{ActiveUsers: []string{user}}}
}

func graftEvent(id, user string, ts int64, after, agent string) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.GraftData{After: after, AgentName: agent}}
}

func pruneEvent(id, user string, ts int64, step string) ir.Event {
	return ir.Event{ID: id, UserID: user, Timestamp: ts, Data: ir.PruneData{StepID: step, IsPruned: true}}
}

func errorCode(t *testing.T, f transport.Frame) string {
	t.Helper()
	require.Equal(t, transport.FrameError, f.Type)
	var p transport.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	return p.Code
}

func TestUp(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/up")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	join(t, env.dial(t), "r1", "alice", 1000)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "runcollab_server_events_stored_total")
}

func TestPublishIsStoredAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)

	join(t, alice, "r1", "alice", 1000)
	join(t, bob, "r1", "bob", 1100)

	publish(t, alice, "r1", graftEvent("g1", "alice", 2000, "fetch", "lint"))

	assert.Equal(t, []string{"g1"}, receiveUntil(t, bob, "g1"))
	receiveUntil(t, alice, "g1")

	events, err := env.store.Events(context.Background(), "r1")
	require.NoError(t, err)
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	assert.Equal(t, []string{"alice-join", "bob-join", "g1"}, ids)
}

func TestSubscribeReplaysHistoryInArrivalOrder(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "r1",
		graftEvent("e2", "bob", 2000, "fetch", "lint"),
		joinEvent("e1", "alice", 1000),
		pruneEvent("e3", "alice", 3000, "lint"),
	)
	env.seed(t, "other", joinEvent("x1", "carol", 500))

	sess := env.dial(t)
	require.NoError(t, sess.Subscribe(transport.CollaborationTopic("r1")))

	var ids []string
	for range 3 {
		f := receive(t, sess)
		assert.Equal(t, transport.CollaborationTopic("r1"), f.Destination)
		ev, err := ir.DecodeEvent(f.Payload)
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"e2", "e1", "e3"}, ids)
}

func TestDuplicatePublishIsNotRebroadcast(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	join(t, alice, "r1", "alice", 1000)

	g1 := graftEvent("g1", "alice", 2000, "fetch", "lint")
	publish(t, alice, "r1", g1)
	publish(t, alice, "r1", g1)
	publish(t, alice, "r1", graftEvent("g2", "alice", 2100, "lint", "test"))

	assert.Equal(t, []string{"g1", "g2"}, receiveUntil(t, alice, "g2"))

	summary, err := env.store.GetRunSummary(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.EventCount)
}

func TestRepeatedJoinIsRelayedNotStored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	join(t, alice, "r1", "alice", 1000)
	join(t, bob, "r1", "bob", 1100)

	for i, ts := range []int64{11000, 21000, 31000} {
		hb := joinEvent(fmt.Sprintf("alice-hb-%d", i), "alice", ts)
		publish(t, alice, "r1", hb)
		assert.Equal(t, []string{hb.ID}, receiveUntil(t, bob, hb.ID), "refresh still reaches members")
	}

	resp, body := get(t, env.http.URL+"/api/runs/r1/collaboration/history")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var snaps []timetravel.Snapshot
	require.NoError(t, json.Unmarshal(body, &snaps))
	assert.Len(t, snaps, 2)

	resp, body = get(t, env.http.URL+"/api/runs/r1/collaboration/analytics")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var a analytics.Analytics
	require.NoError(t, json.Unmarshal(body, &a))
	assert.Equal(t, 2, a.TotalEvents)
	assert.Equal(t, 2, a.EventTypeCounts[ir.EventUserJoin])

	// After a leave the next join changes membership and is stored.
	publish(t, alice, "r1", ir.Event{ID: "alice-leave", UserID: "alice", Timestamp: 40000, Data: ir.LeaveData{}})
	receiveUntil(t, bob, "alice-leave")
	publish(t, alice, "r1", joinEvent("alice-back", "alice", 50000))
	receiveUntil(t, bob, "alice-back")

	events, err := env.store.Events(context.Background(), "r1")
	require.NoError(t, err)
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	assert.Equal(t, []string{"alice-join", "bob-join", "alice-leave", "alice-back"}, ids)
}

func TestPublishRejections(t *testing.T) {
	graft, err := json.Marshal(graftEvent("g1", "alice", 2000, "fetch", "lint"))
	require.NoError(t, err)
	huge, err := json.Marshal(ir.Event{
		ID: "f1", UserID: "alice", Timestamp: 2000,
		Data: ir.FlagData{StepID: "fetch", Note: strings.Repeat("x", 2*testMaxFrame)},
	})
	require.NoError(t, err)

	tests := []struct {
		name        string
		destination string
		payload     json.RawMessage
		code        string
	}{
		{"not an event", "runs/r1/graft", json.RawMessage(`"hello"`), transport.CodeInvalidArgument},
		{"unknown type", "runs/r1/graft", json.RawMessage(`{"eventId":"m1","eventType":"MERGE","userId":"alice","timestamp":1,"data":{}}`), transport.CodeInvalidArgument},
		{"missing field", "runs/r1/graft", json.RawMessage(`{"eventId":"g2","eventType":"GRAFT","userId":"alice","timestamp":1,"data":{"after":"fetch"}}`), transport.CodeInvalidArgument},
		{"wrong kind", "runs/r1/prune", graft, transport.CodeInvalidArgument},
		{"collaboration topic", "runs/r1/collaboration", graft, transport.CodeInvalidArgument},
		{"bad destination", "rooms/r1", graft, transport.CodeInvalidArgument},
		{"too large", "runs/r1/flag", huge, transport.CodeTooLarge},
	}

	env := newTestEnv(t)
	sess := env.dial(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, sess.Publish(tt.destination, tt.payload))
			f := receive(t, sess)
			assert.Equal(t, tt.code, errorCode(t, f))
			assert.Equal(t, tt.destination, f.Destination)
		})
	}

	events, err := env.store.Events(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSubscribeRequiresCollaborationTopic(t *testing.T) {
	env := newTestEnv(t)
	sess := env.dial(t)

	require.NoError(t, sess.Subscribe("runs/r1/graft"))
	assert.Equal(t, transport.CodeInvalidArgument, errorCode(t, receive(t, sess)))
}

func TestGarbageClosesConnection(t *testing.T) {
	env := newTestEnv(t)

	conn, err := websocket.Dial(env.wsURL(), "", env.http.URL)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	dec := json.NewDecoder(conn)
	errorsSeen := 0
	for {
		var f transport.Frame
		if err := dec.Decode(&f); err != nil {
			break
		}
		assert.Equal(t, transport.FrameError, f.Type)
		errorsSeen++
	}
	assert.Equal(t, maxDecodeErrors, errorsSeen)
}
