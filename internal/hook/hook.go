// Package hook implements the short-lived programs the assistant invokes
// synchronously at fixed lifecycle points (spec.md §4.10). Each hook reads
// a JSON object from stdin, does network I/O under a strict time budget,
// and writes a JSON object to stdout describing its decision. Hooks never
// block indefinitely and always exit zero; errors are logged to a file,
// never surfaced as a non-zero exit.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/dundas/teleportation/internal/relay"
)

// sessionIDPattern is the canonical UUID-like shape hooks validate session
// ids against (spec.md §4.10).
var sessionIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Input is the JSON object every hook reads from stdin. Not every field
// applies to every hook kind.
type Input struct {
	SessionID       string         `json:"session_id"`
	ClaudeSessionID string         `json:"claude_session_id,omitempty"`
	Cwd             string         `json:"cwd,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolInput       map[string]any `json:"tool_input,omitempty"`
	ToolResponse    map[string]any `json:"tool_response,omitempty"`
	HookEventName   string         `json:"hook_event_name,omitempty"`
	IsAway          bool           `json:"is_away,omitempty"`
}

// HookSpecificOutput carries the assistant-facing decision for hooks that
// can allow/deny the triggering action.
type HookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision        string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason  string `json:"permissionDecisionReason,omitempty"`
}

// Output is the JSON object every hook writes to stdout.
type Output struct {
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
	SuppressOutput     bool                `json:"suppressOutput"`
}

// Env bundles the dependencies every hook needs: a control-surface client
// for the local daemon, a relay client, and a file logger. Constructed once
// per hook invocation by the cmd/teleportation-hook entrypoint.
type Env struct {
	DaemonBaseURL string
	Relay         *relay.Client
	Log           zerolog.Logger
	HTTPTimeout   time.Duration
}

// ReadInput decodes the hook's stdin payload. Malformed JSON is treated as
// an empty input rather than an error — hooks never fail the assistant
// over a decode problem.
func ReadInput(r io.Reader) Input {
	var in Input
	data, err := io.ReadAll(r)
	if err != nil {
		return in
	}
	_ = json.Unmarshal(data, &in)
	return in
}

// WriteOutput writes out as a single JSON line to stdout.
func WriteOutput(w io.Writer, out Output) {
	enc := json.NewEncoder(w)
	_ = enc.Encode(out)
}

// neutral is the zero-decision output emitted when a hook has nothing to
// report and the assistant should proceed normally.
func neutral() Output {
	return Output{SuppressOutput: true}
}

// validateSessionID reports whether id matches the canonical pattern,
// warning to stderr (but never failing) if not (spec.md §4.10).
func validateSessionID(env Env, id string) bool {
	if sessionIDPattern.MatchString(id) {
		return true
	}
	fmt.Fprintf(os.Stderr, "warning: session id %q does not match the expected format\n", id)
	env.Log.Warn().Str("session_id", id).Msg("malformed session id")
	return false
}

// registerWithDaemon calls the daemon's loopback control surface to
// register a session. Failures are logged and swallowed: the hook must
// never block the assistant over a daemon hiccup.
func registerWithDaemon(ctx context.Context, env Env, in Input) {
	body := map[string]any{
		"session_id":        in.SessionID,
		"claude_session_id": in.ClaudeSessionID,
		"cwd":               in.Cwd,
	}
	if err := postDaemonJSON(ctx, env, "/sessions/register", body); err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("daemon registration failed")
	}
}

// postDaemonJSON is a small helper for talking to the daemon's control
// surface, which uses plain JSON POSTs with no auth (loopback is the trust
// boundary, control.MaxBodyBytes bounds the body on the receiving side).
func postDaemonJSON(ctx context.Context, env Env, path string, body any) error {
	return httpPostJSON(ctx, env.DaemonBaseURL+path, body, env.HTTPTimeout)
}
