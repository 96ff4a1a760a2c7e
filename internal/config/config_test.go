package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runcollab/internal/supervisor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runcollab.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultSupervisorMatchesPackageDefaults(t *testing.T) {
	assert.Equal(t, supervisor.DefaultConfig(), Default().SupervisorSettings())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
server:
  addr: ":9000"
client:
  user_id: alice
  pipeline: [fetch, build, deploy]
  heartbeat_interval: 5s
supervisor:
  failure_threshold: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "runcollab.db", cfg.Server.DBPath, "unset keys keep defaults")
	assert.Equal(t, "alice", cfg.Client.UserID)
	assert.Equal(t, []string{"fetch", "build", "deploy"}, cfg.Client.Pipeline)
	assert.Equal(t, 5*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, 5, cfg.Supervisor.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Supervisor.CoolDown)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("RUNCOLLAB_SERVER_ADDR", ":9100")
	t.Setenv("RUNCOLLAB_CLIENT_PIPELINE", "a,b")
	t.Setenv("RUNCOLLAB_SUPERVISOR_COOL_DOWN", "1m")
	t.Setenv("RUNCOLLAB_CLIENT_OUTBOX", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, []string{"a", "b"}, cfg.Client.Pipeline)
	assert.Equal(t, time.Minute, cfg.Supervisor.CoolDown)
	assert.True(t, cfg.Client.Outbox)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "server:\n  adress: \":9000\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("RUNCOLLAB_SERVER_MAX_FRAME_BYTES", "lots")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	cfg.Client.URL = "http://example.com"
	cfg.Supervisor.Jitter = 1.5
	cfg.Supervisor.MaxDelay = time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	fields := make([]string, len(verrs))
	for i, v := range verrs {
		fields[i] = v.Field
	}
	assert.ElementsMatch(t, []string{"log_level", "client.url", "supervisor.max_delay", "supervisor.jitter"}, fields)
}

func TestValidateHeartbeatShorterThanStaleness(t *testing.T) {
	cfg := Default()
	cfg.Client.HeartbeatInterval = 30 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client.heartbeat_interval")

	cfg.Client.Staleness = 0
	assert.NoError(t, cfg.Validate(), "no staleness, no constraint")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, "WARN", level.String())

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
