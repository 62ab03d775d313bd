// Package pidlock guarantees at most one daemon process per user account
// via a filesystem lock with a liveness check, per spec.md §4.1.
package pidlock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Acquire when another live process holds
// the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// Lock is an acquired (or attempted) PID lock at a well-known path.
type Lock struct {
	path   string
	handle *flock.Flock
	pid    int
}

// New returns a Lock bound to path. The file is not touched until Acquire.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock for pid, optionally recording sessionHint in the
// lock file for diagnostic purposes. A stale lock (pid not alive) is
// cleaned up and acquisition proceeds; a live lock returns
// ErrAlreadyRunning.
func (l *Lock) Acquire(pid int, sessionHint string) error {
	if stalePID, ok := readLockedPID(l.path); ok && stalePID != pid {
		if isAlive(stalePID) {
			return fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, stalePID, l.path)
		}
		// Stale: the recorded pid is not alive. Remove before re-locking so
		// a leftover advisory lock from a killed process doesn't linger.
		_ = os.Remove(l.path)
	}

	h := flock.New(l.path)
	locked, err := h.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring pid lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: lock held by another process", ErrAlreadyRunning)
	}

	content := strconv.Itoa(pid)
	if sessionHint != "" {
		content += "\n" + sessionHint
	}
	if err := os.WriteFile(l.path, []byte(content), 0o600); err != nil {
		_ = h.Unlock()
		return fmt.Errorf("writing pid lock: %w", err)
	}

	l.handle = h
	l.pid = pid
	return nil
}

// Release clears the lock only if the file still records the pid this Lock
// acquired with.
func (l *Lock) Release() error {
	if l.handle == nil {
		return nil
	}
	if recorded, ok := readLockedPID(l.path); ok && recorded != l.pid {
		// Someone else's lock now; don't touch their file, just drop our handle.
		return l.handle.Unlock()
	}
	_ = os.Remove(l.path)
	return l.handle.Unlock()
}

// RunningPID returns the pid of the live process currently holding the
// lock at path, or an error if no live process holds it.
func (l *Lock) RunningPID() (int, error) {
	pid, ok := readLockedPID(l.path)
	if !ok {
		return 0, fmt.Errorf("no pid lock file at %s", l.path)
	}
	if !isAlive(pid) {
		return 0, fmt.Errorf("pid %d recorded in %s is not running", pid, l.path)
	}
	return pid, nil
}

func readLockedPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	first := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)[0]
	pid, err := strconv.Atoi(first)
	if err != nil {
		return 0, false
	}
	return pid, true
}

// isAlive performs a zero-signal liveness check: sending signal 0 does not
// actually send a signal, only checks whether the process could be signaled.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
