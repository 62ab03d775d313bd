package main

import (
	"bytes"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	require.NoError(t, w.Close())
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

func TestDoctorCmd_NoDaemonRunning(t *testing.T) {
	stateDir = t.TempDir()
	out := captureStdout(t, func() {
		cmd := doctorCmd()
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "pid lock: no daemon running")
}

func TestStopCmd_NoDaemonRunningReturnsError(t *testing.T) {
	stateDir = t.TempDir()
	cmd := stopCmd()
	err := cmd.Execute()
	assert.Error(t, err)
}

func TestStatusCmd_QueriesGivenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sessions":0}`))
	})}
	go srv.Serve(ln)
	defer srv.Close()

	port := ln.Addr().(*net.TCPAddr).Port

	stateDir = t.TempDir()
	cmd := statusCmd()
	cmd.SetArgs([]string{"--port", strconv.Itoa(port)})

	out := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "\"sessions\"")
}

func TestDefaultStateDir_UnderHomeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".teleportation"), defaultStateDir())
}
