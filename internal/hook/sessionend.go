package hook

import (
	"bufio"
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dundas/teleportation/internal/relay"
)

// DeregisterTimeout bounds the session-end deregister call to the daemon
// so a stuck daemon never hangs the assistant on exit (spec.md §4.10).
const DeregisterTimeout = 2 * time.Second

// SessionEnd runs the session-end hook: terminate any per-session helper
// processes recorded in a PID file, mark the session stopped at the relay,
// and deregister it from the daemon under a short timeout.
func SessionEnd(ctx context.Context, env Env, in Input, helperPIDFile string) Output {
	validateSessionID(env, in.SessionID)

	killRecordedHelper(env, helperPIDFile, in.SessionID)

	if err := env.Relay.PatchDaemonState(ctx, in.SessionID, relayStoppedState()); err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("marking session stopped at relay failed")
	}

	deadline, cancel := context.WithTimeout(ctx, DeregisterTimeout)
	defer cancel()
	if err := postDaemonJSON(deadline, env, "/sessions/deregister", map[string]string{"session_id": in.SessionID}); err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("deregistering from daemon failed")
	}

	return neutral()
}

// killRecordedHelper reads "<pid> <session_id>" from pidFile and signals
// the recorded pid, but only if the recorded session id matches the
// current one — this prevents killing another session's helper process
// left over from a stale or reused PID file.
func killRecordedHelper(env Env, pidFile, sessionID string) {
	f, err := os.Open(pidFile)
	if err != nil {
		return
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		env.Log.Warn().Str("pid_file", pidFile).Msg("malformed helper pid file")
		return
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	recordedSession := fields[1]
	if recordedSession != sessionID {
		env.Log.Warn().Str("recorded_session", recordedSession).Str("session_id", sessionID).Msg("helper pid file belongs to a different session, not killing")
		return
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		env.Log.Debug().Err(err).Int("pid", pid).Msg("helper process already gone")
	}
	_ = os.Remove(pidFile)
}

func relayStoppedState() relay.DaemonState {
	return relay.DaemonState{Status: "stopped", StoppedReason: "session-end"}
}
