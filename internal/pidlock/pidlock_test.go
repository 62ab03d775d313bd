package pidlock_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dundas/teleportation/internal/pidlock"
)

func TestLock_AcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	l := pidlock.New(path)

	require.NoError(t, l.Acquire(os.Getpid(), "session-1"))

	pid, err := l.RunningPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, l.Release())
	_, err = l.RunningPID()
	assert.Error(t, err, "lock file should be removed after release")
}

func TestLock_AcquireTwiceBySameProcessFailsSecondHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	first := pidlock.New(path)
	require.NoError(t, first.Acquire(os.Getpid(), ""))
	defer first.Release()

	second := pidlock.New(path)
	err := second.Acquire(os.Getpid(), "")
	assert.ErrorIs(t, err, pidlock.ErrAlreadyRunning)
}

func TestLock_AcquireCleansUpStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")

	// A pid that is very unlikely to be alive: write it directly, bypassing
	// Acquire, to simulate a leftover lock from a killed process.
	const stalePID = 999999
	require.NoError(t, os.WriteFile(path, []byte("999999\nstale-session"), 0o600))

	l := pidlock.New(path)
	err := l.Acquire(os.Getpid(), "fresh-session")
	require.NoError(t, err, "a stale lock (dead pid) should be cleaned up and re-acquired")

	pid, err := l.RunningPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.NotEqual(t, stalePID, pid)
}

func TestLock_RunningPIDWithNoLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	l := pidlock.New(path)
	_, err := l.RunningPID()
	assert.Error(t, err)
}

func TestLock_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	l := pidlock.New(path)
	assert.NoError(t, l.Release())
}
