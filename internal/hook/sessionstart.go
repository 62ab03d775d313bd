package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// daemonStartBackoff drives the bounded retry used when session-start must
// spawn the daemon itself: one launch attempt per entry, each followed by
// a wait of 500ms, 1s, then 1.5s before the health re-check.
var daemonStartBackoff = []time.Duration{500 * time.Millisecond, 1 * time.Second, 1500 * time.Millisecond}

// DaemonLauncher starts the daemon binary detached from the hook process.
// Overridable for testing.
type DaemonLauncher func() error

// SessionStart runs the session-start hook: ensure the daemon is running,
// register the session with it, and write a marker file recording when
// the session began (used later to detect credential file changes).
func SessionStart(ctx context.Context, env Env, in Input, markerDir string, launch DaemonLauncher) Output {
	validateSessionID(env, in.SessionID)

	if !daemonHealthy(ctx, env) {
		for _, backoff := range daemonStartBackoff {
			if err := launch(); err != nil {
				env.Log.Warn().Err(err).Msg("daemon launch attempt failed")
			}
			time.Sleep(backoff)
			if daemonHealthy(ctx, env) {
				break
			}
		}
	}

	registerWithDaemon(ctx, env, in)

	if err := writeSessionMarker(markerDir, in.SessionID); err != nil {
		env.Log.Warn().Err(err).Msg("failed to write session marker")
	}

	return neutral()
}

func daemonHealthy(ctx context.Context, env Env) bool {
	var health map[string]any
	err := httpGetJSON(ctx, env.DaemonBaseURL+"/health", env.HTTPTimeout, &health)
	return err == nil
}

// writeSessionMarker records the session start time so later hooks can
// detect a credentials file modified after this session began.
func writeSessionMarker(dir, sessionID string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating marker dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".marker")
	return os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)), 0o600)
}
