package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dundas/teleportation/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"RELAY_API_URL", "RELAY_API_KEY", "TELEPORTATION_DAEMON_PORT",
		"DAEMON_POLL_INTERVAL_MS", "DAEMON_CHILD_TIMEOUT_MS", "DAEMON_IDLE_TIMEOUT_MS",
		"DAEMON_IDLE_CHECK_INTERVAL_MS", "DAEMON_HEARTBEAT_INTERVAL_MS",
		"TELEPORTATION_HOOK_LOG", "TELEPORTATION_DAEMON_ALLOW_ALL_COMMANDS",
		"TELEPORTATION_DANGER_ZONE", "NODE_ENV", "ENV",
	}
	for _, v := range vars {
		prev, had := os.LookupEnv(v)
		require.NoError(t, os.Unsetenv(v))
		if had {
			t.Cleanup(func() { _ = os.Setenv(v, prev) })
		}
	}
}

func TestDefaults(t *testing.T) {
	d := config.Defaults("/state")
	assert.Equal(t, 3050, d.DaemonPort)
	assert.Equal(t, 5*time.Second, d.PollInterval)
	assert.Equal(t, 600*time.Second, d.ChildTimeout)
	assert.Equal(t, 30*time.Minute, d.IdleTimeout)
	assert.Equal(t, "/state", d.StateDir)
}

func TestLoad_RequiresRelayAPIURL(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_API_URL", "https://relay.example.com")
	t.Setenv("RELAY_API_KEY", "secret")
	t.Setenv("TELEPORTATION_DAEMON_PORT", "4000")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "https://relay.example.com", cfg.RelayAPIURL)
	assert.Equal(t, "secret", cfg.RelayAPIKey)
	assert.Equal(t, 4000, cfg.DaemonPort)
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	tomlContent := "relay_api_url = \"https://file.example.com\"\ndaemon_port = 5000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(tomlContent), 0o600))

	// Env should win over the file value.
	t.Setenv("TELEPORTATION_DAEMON_PORT", "6000")

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.RelayAPIURL)
	assert.Equal(t, 6000, cfg.DaemonPort)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RELAY_API_URL", "https://relay.example.com")

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 3050, cfg.DaemonPort)
}

func TestConfig_BypassAllowedRequiresBothSignalsAndNonProduction(t *testing.T) {
	cases := []struct {
		name       string
		allowAll   bool
		dangerZone bool
		production bool
		want       bool
	}{
		{"neither signal", false, false, false, false},
		{"only allow-all", true, false, false, false},
		{"only danger-zone", false, true, false, false},
		{"both signals, not production", true, true, false, true},
		{"both signals, production", true, true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Config{AllowAllCommands: tc.allowAll, DangerZone: tc.dangerZone, Production: tc.production}
			assert.Equal(t, tc.want, cfg.BypassAllowed())
		})
	}
}
