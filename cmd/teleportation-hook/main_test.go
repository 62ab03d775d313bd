package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerDir_NestedUnderStateDir(t *testing.T) {
	stateDir = "/tmp/some-state"
	assert.Equal(t, filepath.Join("/tmp/some-state", "session-markers"), markerDir())
}

func TestBuildEnv_FallsBackToNopLoggerOnBadLogPath(t *testing.T) {
	// A log path under a file (not a directory) can't be created; buildEnv
	// must tolerate this and still return a usable Env.
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	os.Setenv("TELEPORTATION_HOOK_LOG", filepath.Join(blocker, "hook.log"))
	defer os.Unsetenv("TELEPORTATION_HOOK_LOG")

	relayAPIURL = "http://127.0.0.1:1"
	relayAPIKey = "key"
	daemonPort = 3050

	env, closeLog := buildEnv()
	defer closeLog()

	assert.Equal(t, "http://127.0.0.1:3050", env.DaemonBaseURL)
	assert.NotNil(t, env.Relay)
}

func TestLaunchDaemon_MissingBinaryReturnsError(t *testing.T) {
	err := launchDaemon("/no/such/teleportationd-binary", t.TempDir())
	assert.Error(t, err)
}

// runHookCommand pipes stdin through cmd's RunE and captures stdout JSON.
func runHookCommand(t *testing.T, build func() *cobra.Command, input string) map[string]any {
	t.Helper()
	c := build()

	oldStdin, oldStdout := os.Stdin, os.Stdout
	defer func() { os.Stdin = oldStdin; os.Stdout = oldStdout }()

	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	_, _ = inW.WriteString(input)
	require.NoError(t, inW.Close())
	os.Stdin = inR

	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = outW

	require.NoError(t, c.Execute())
	require.NoError(t, outW.Close())

	data, err := io.ReadAll(outR)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestPostToolUseCmd_EndToEnd(t *testing.T) {
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer relaySrv.Close()

	stateDir = t.TempDir()
	relayAPIURL = relaySrv.URL
	relayAPIKey = "key"
	daemonPort = 3050

	input := `{"session_id":"11111111-1111-1111-1111-111111111111","tool_name":"Bash"}`
	out := runHookCommand(t, func() *cobra.Command { return postToolUseCmd() }, input)
	assert.Equal(t, true, out["suppressOutput"])
}
