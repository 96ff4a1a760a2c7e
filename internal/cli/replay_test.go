package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/store"
)

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestReplayDatabaseNotFound(t *testing.T) {
	_, err := execute(t, "replay", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found in database.")
}

func TestReplayConverges(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRun(t)

	out, err := execute(t, "replay", "--db", env.dbPath, "--shuffles", "5", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ run-1: 3 events, 8 orders")
	assert.Contains(t, out, "graft order: [fetch test lint build]")
	assert.Contains(t, out, "✓ All 1 runs converge")
}

func TestReplayJSON(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRun(t)

	out, err := execute(t, "--format", "json", "replay", "--db", env.dbPath, "--run", "run-1", "--shuffles", "0")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllConverged)
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, []string{"stored", "reversed", "duplicated"}, resp.Data.Runs[0].Orders)
	assert.Empty(t, resp.Data.Runs[0].Divergent)
}

func TestReplayUnknownRun(t *testing.T) {
	env := newAPIEnv(t)

	_, err := execute(t, "replay", "--db", env.dbPath, "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}
