package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/analytics"
	"github.com/roach88/runcollab/internal/timetravel"
)

func TestRunsCommand(t *testing.T) {
	env := newAPIEnv(t)

	out, err := execute(t, "runs", "--server", env.http.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")

	env.seedRun(t)
	out, err = execute(t, "runs", "--server", env.http.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "fetch,build")
	assert.Contains(t, out, "2024-01-01T00:00:10Z")
}

func TestRunsCommand_Unreachable(t *testing.T) {
	_, err := execute(t, "runs", "--server", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistoryCommand(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRun(t)

	out, err := execute(t, "history", "run-1", "--server", env.http.URL)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "alice grafted lint after fetch")
	assert.Contains(t, lines[2], "bob pruned build")

	out, err = execute(t, "history", "run-1", "--server", env.http.URL,
		"--start", "1704067201000", "--end", "1704067205000")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "bob grafted test after fetch")
}

func TestHistoryCommand_JSON(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRun(t)

	out, err := execute(t, "--format", "json", "history", "run-1", "--server", env.http.URL)
	require.NoError(t, err)

	var resp struct {
		Status string                `json:"status"`
		Data   []timetravel.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, []string{"fetch", "test", "lint", "build"}, resp.Data[2].StateAfter.GraftOrder)
	assert.Equal(t, []string{"build"}, resp.Data[2].StateAfter.PrunedSteps)
}

func TestAnalyticsCommand(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRun(t)

	out, err := execute(t, "analytics", "run-1", "--server", env.http.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Run run-1: 3 events by 2 users")
	assert.Contains(t, out, "Most grafted checkpoints:")
	assert.Contains(t, out, "Conflicts: 1")
	assert.Contains(t, out, "alice vs bob within 2000ms, winner e2")

	out, err = execute(t, "--format", "json", "analytics", "run-1", "--server", env.http.URL)
	require.NoError(t, err)
	var resp struct {
		Data analytics.Analytics `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Data.TotalEvents)
	assert.Equal(t, 3, resp.Data.HourlyHeatmap[0])
	require.Len(t, resp.Data.MostGraftedCheckpoints, 1)
	assert.Equal(t, "fetch", resp.Data.MostGraftedCheckpoints[0].StepID)
}

func TestExportCommand(t *testing.T) {
	env := newAPIEnv(t)
	env.seedRun(t)

	out, err := execute(t, "export", "run-1", "--as", "csv", "--server", env.http.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, strings.Join(timetravel.CSVHeader, ",")+"\n"), out)
	assert.Equal(t, 4, strings.Count(out, "\n"))

	path := filepath.Join(t.TempDir(), "run-1.json")
	out, err = execute(t, "export", "run-1", "-o", path, "--server", env.http.URL)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snaps []timetravel.Snapshot
	require.NoError(t, json.Unmarshal(data, &snaps))
	assert.Len(t, snaps, 3)
}

func TestExportCommand_UnknownFormat(t *testing.T) {
	_, err := execute(t, "export", "run-1", "--as", "xlsx", "--server", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown export format "xlsx"`)
}
