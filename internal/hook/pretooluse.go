package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dundas/teleportation/internal/relay"
)

// CredentialsPath is the file whose mtime is compared against the session
// marker to detect credential rotation mid-session.
var CredentialsPath = os.ExpandEnv("$HOME/.teleportation/credentials.json")

// PreToolUse runs the pre-tool-use hook: lazily register the session with
// the daemon and the relay, then deliver any pending remote results by
// denying the current tool call with the formatted results as the reason
// (the context-delivery mechanism, spec.md §4.10).
func PreToolUse(ctx context.Context, env Env, in Input, markerDir string) Output {
	validateSessionID(env, in.SessionID)

	registerWithDaemon(ctx, env, in)
	if err := env.Relay.Heartbeat(ctx, in.SessionID); err != nil {
		env.Log.Debug().Err(err).Msg("lazy relay registration/heartbeat failed")
	}

	warnIfCredentialsRotated(env, markerDir, in.SessionID)

	results, err := env.Relay.PendingResults(ctx, in.SessionID)
	if err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("fetching pending results failed")
		return neutral()
	}
	if len(results) == 0 {
		return neutral()
	}

	text := formatPendingResults(results)
	for _, r := range results {
		if err := env.Relay.MarkResultDelivered(ctx, in.SessionID, r.ID); err != nil {
			env.Log.Warn().Err(err).Str("result_id", r.ID).Msg("marking result delivered failed")
		}
	}

	return Output{
		HookSpecificOutput: &HookSpecificOutput{
			HookEventName:            in.HookEventName,
			PermissionDecision:       "deny",
			PermissionDecisionReason: text,
		},
		SuppressOutput: true,
	}
}

func formatPendingResults(results []relay.PendingResult) string {
	var b strings.Builder
	b.WriteString("Remote execution results arrived while you were away:\n\n")
	for _, r := range results {
		if r.Text != "" {
			b.WriteString(r.Text)
		} else {
			fmt.Fprintf(&b, "approval %s: exit %d\n", r.Rec.ApprovalID, r.Rec.ExitCode)
			if r.Rec.Stdout != "" {
				fmt.Fprintf(&b, "stdout:\n%s\n", r.Rec.Stdout)
			}
			if r.Rec.Stderr != "" {
				fmt.Fprintf(&b, "stderr:\n%s\n", r.Rec.Stderr)
			}
		}
		b.WriteString("\n---\n")
	}
	return b.String()
}

// warnIfCredentialsRotated checks whether CredentialsPath was modified
// after the session marker was written, warning (but never failing) if so.
func warnIfCredentialsRotated(env Env, markerDir, sessionID string) {
	markerPath := filepath.Join(markerDir, sessionID+".marker")
	markerInfo, err := os.Stat(markerPath)
	if err != nil {
		return
	}
	credInfo, err := os.Stat(CredentialsPath)
	if err != nil {
		return
	}
	if credInfo.ModTime().After(markerInfo.ModTime()) {
		fmt.Fprintln(os.Stderr, "warning: credentials were updated after this session started; restart to pick up the change")
		env.Log.Warn().Str("session_id", sessionID).Time("marker_time", markerInfo.ModTime()).Time("cred_time", credInfo.ModTime()).Msg("credentials rotated mid-session")
	}
}
