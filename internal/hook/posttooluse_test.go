package hook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dundas/teleportation/internal/hook"
	"github.com/dundas/teleportation/internal/relay"
)

func TestPostToolUse_LogsTimelineEvent(t *testing.T) {
	var gotBody map[string]any
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/timeline/log", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer relaySrv.Close()

	env := hook.Env{
		Relay:       relay.NewClient(relaySrv.URL, "key"),
		Log:         zerolog.Nop(),
		HTTPTimeout: time.Second,
	}
	in := hook.Input{
		SessionID: "11111111-1111-1111-1111-111111111111",
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "ls"},
	}

	out := hook.PostToolUse(context.Background(), env, in)
	assert.True(t, out.SuppressOutput)
	assert.Equal(t, "tool_use", gotBody["event_type"])
	assert.Equal(t, in.SessionID, gotBody["session_id"])
}

func TestPostToolUse_RelayFailureStillReturnsNeutral(t *testing.T) {
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer relaySrv.Close()

	env := hook.Env{
		Relay:       relay.NewClient(relaySrv.URL, "key"),
		Log:         zerolog.Nop(),
		HTTPTimeout: time.Second,
	}
	out := hook.PostToolUse(context.Background(), env, hook.Input{SessionID: "11111111-1111-1111-1111-111111111111"})
	assert.True(t, out.SuppressOutput)
	assert.Nil(t, out.HookSpecificOutput)
}
