package hook

import (
	"context"
)

// PermissionRequest runs the permission-request hook: when the session is
// flagged away, create an approval on the relay and hand it off to the
// daemon's queue for local execution (spec.md §4.10).
func PermissionRequest(ctx context.Context, env Env, in Input) Output {
	validateSessionID(env, in.SessionID)

	if !in.IsAway {
		return neutral()
	}

	approvalID, err := env.Relay.CreateApproval(ctx, in.SessionID, in.ToolName, in.ToolInput)
	if err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("creating remote approval failed")
		return neutral()
	}

	body := map[string]any{
		"approval_id": approvalID,
		"session_id":  in.SessionID,
		"tool_name":   in.ToolName,
		"tool_input":  in.ToolInput,
	}
	if err := postDaemonJSON(ctx, env, "/approvals/handoff", body); err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("handoff to daemon failed")
	}

	return neutral()
}
