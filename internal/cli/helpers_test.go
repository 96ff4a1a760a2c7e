package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/ir"
	"github.com/roach88/runcollab/internal/server"
	"github.com/roach88/runcollab/internal/store"
)

// 2024-01-01T00:00:00Z
const baseTS int64 = 1_704_067_200_000

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type apiEnv struct {
	store  *store.Store
	dbPath string
	http   *httptest.Server
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runcollab.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hs := httptest.NewServer(server.New(st).Handler())
	t.Cleanup(hs.Close)
	return &apiEnv{store: st, dbPath: dbPath, http: hs}
}

func (env *apiEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
}

// seedRun stores run-1: two grafts after fetch two seconds apart and a
// prune of build.
func (env *apiEnv) seedRun(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.store.EnsureRun(ctx, "run-1", []string{"fetch", "build"}, baseTS))

	events := []ir.Event{
		{ID: "e1", UserID: "alice", Timestamp: baseTS, Data: ir.GraftData{After: "fetch", AgentName: "lint"}},
		{ID: "e2", UserID: "bob", Timestamp: baseTS + 2000, Data: ir.GraftData{After: "fetch", AgentName: "test"}},
		{ID: "e3", UserID: "bob", Timestamp: baseTS + 10_000, Data: ir.PruneData{StepID: "build", IsPruned: true}},
	}
	for _, ev := range events {
		_, err := env.store.AppendEvent(ctx, "run-1", ev, ev.Timestamp)
		require.NoError(t, err)
	}
}
