package hook

import "context"

// PostToolUse runs the post-tool-use hook: record the tool invocation
// outcome in the session's relay timeline (spec.md §4.10).
func PostToolUse(ctx context.Context, env Env, in Input) Output {
	validateSessionID(env, in.SessionID)

	data := map[string]any{
		"tool_name":     in.ToolName,
		"tool_input":    in.ToolInput,
		"tool_response": in.ToolResponse,
	}
	if err := env.Relay.LogTimelineEvent(ctx, in.SessionID, "tool_use", data); err != nil {
		env.Log.Warn().Err(err).Str("session_id", in.SessionID).Msg("logging timeline event failed")
	}
	return neutral()
}
