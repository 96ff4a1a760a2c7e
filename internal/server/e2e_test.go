package server

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/engine"
	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/transport"
)

const (
	e2eWait = 5 * time.Second
	e2eTick = 10 * time.Millisecond
)

func (env *testEnv) engine(t *testing.T, user string) *engine.Engine {
	t.Helper()
	e := engine.New(transport.WebsocketDialer{URL: env.wsURL()}, user,
		engine.WithIDGenerator(ir.NewSequenceGenerator(user)),
		engine.WithPipeline("fetch", "build"),
	)
	t.Cleanup(e.Close)
	return e
}

func TestEnginesConvergeThroughServer(t *testing.T) {
	env := newTestEnv(t)
	alice := env.engine(t, "alice")
	bob := env.engine(t, "bob")

	alice.Open("r1")
	bob.Open("r1")
	require.Eventually(t, func() bool { return alice.IsConnected() && bob.IsConnected() }, e2eWait, e2eTick)

	_, err := alice.SendGraft("fetch", "lint")
	require.NoError(t, err)
	_, err = bob.SendPrune("build", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return alice.State().Equal(bob.State()) && len(alice.State().PrunedSteps) == 1 &&
			slices.Contains(alice.State().GraftOrder, "lint")
	}, e2eWait, e2eTick)
	assert.Equal(t, []string{"fetch", "lint", "build"}, bob.State().GraftOrder)
	assert.ElementsMatch(t, []string{"alice", "bob"}, alice.ActiveUsers())
}

func TestLateJoinerReplaysHistory(t *testing.T) {
	env := newTestEnv(t)
	alice := env.engine(t, "alice")
	alice.Open("r1")
	require.Eventually(t, alice.IsConnected, e2eWait, e2eTick)

	res, err := alice.SendGraft("fetch", "lint")
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Eventually(t, func() bool {
		_, err := env.store.ReadEvent(context.Background(), "r1", res.Event.ID)
		return err == nil
	}, e2eWait, e2eTick)

	carol := env.engine(t, "carol")
	carol.Open("r1")
	require.Eventually(t, func() bool {
		return slices.Equal(carol.State().GraftOrder, []string{"fetch", "lint", "build"})
	}, e2eWait, e2eTick)
	assert.Contains(t, carol.ActiveUsers(), "alice")
}
