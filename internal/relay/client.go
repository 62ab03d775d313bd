// Package relay implements the HTTP client for the relay contract (spec.md
// §6) and the per-session poll-tick driver (spec.md §4.7) that feeds the
// approval queue and inbox handler.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dundas/teleportation/internal/domain"
)

// DefaultTimeout is the deadline applied to every outbound relay call
// unless otherwise stated (spec.md §5).
const DefaultTimeout = 5 * time.Second

// Client talks to the relay's HTTP API. Every request carries a bearer
// secret and a 5 second deadline.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient returns a relay Client bound to baseURL, authorized with apiKey.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-Id", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay request %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decoding response from %s %s: %w", method, path, err)
	}
	return nil
}

// ErrNotFound is returned for relay responses with HTTP 404, used by
// callers (e.g. heartbeat) that treat missing-session as benign.
var ErrNotFound = fmt.Errorf("relay resource not found")

type approvalsResponse struct {
	Approvals []approvalDTO `json:"approvals"`
}

type approvalDTO struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
}

// ListAllowedApprovals fetches approvals with status=allowed for sessionID.
func (c *Client) ListAllowedApprovals(ctx context.Context, sessionID string) ([]domain.Approval, error) {
	var resp approvalsResponse
	path := fmt.Sprintf("/api/approvals?status=allowed&session_id=%s", sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Approval, 0, len(resp.Approvals))
	for _, a := range resp.Approvals {
		out = append(out, domain.Approval{
			ID:        a.ID,
			SessionID: a.SessionID,
			ToolName:  a.ToolName,
			ToolInput: a.ToolInput,
			Status:    domain.ApprovalAllowed,
		})
	}
	return out, nil
}

type createApprovalResponse struct {
	ID string `json:"id"`
}

// CreateApproval creates a new pending approval on the relay for the
// remote-approval path (spec.md §4.10, permission-request hook) and
// returns its id.
func (c *Client) CreateApproval(ctx context.Context, sessionID, toolName string, toolInput map[string]any) (string, error) {
	body := map[string]any{
		"session_id": sessionID,
		"tool_name":  toolName,
		"tool_input": toolInput,
	}
	var resp createApprovalResponse
	if err := c.do(ctx, http.MethodPost, "/api/approvals", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// AckApproval claims an approval before execution begins. This call must
// complete before the executor spawns the child process (spec.md §4.6,
// the acknowledge-before-execute invariant).
func (c *Client) AckApproval(ctx context.Context, approvalID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/approvals/%s/ack", approvalID), nil, nil)
}

// ReportExecuted posts the execution outcome to the relay's "executed"
// endpoint.
func (c *Client) ReportExecuted(ctx context.Context, rec domain.ExecutionRecord) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/approvals/%s/executed", rec.ApprovalID), rec, nil)
}

// InvalidateApprovals asks the relay to invalidate all pending approvals
// for sessionID, used before dispatching a new inbox command (spec.md §4.7).
func (c *Client) InvalidateApprovals(ctx context.Context, sessionID, reason string) error {
	body := map[string]string{"session_id": sessionID, "reason": reason}
	return c.do(ctx, http.MethodPost, "/api/approvals/invalidate", body, nil)
}

type pendingMessageResponse struct {
	Message *messageDTO `json:"message"`
}

type messageDTO struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	Text         string `json:"text"`
	Type         string `json:"type"`
	ReplyAgentID string `json:"reply_agent_id"`
	ReplyTo      string `json:"reply_to"`
}

// PendingMessage fetches at most one next inbox message targeted at agentID
// for sessionID. ok is false if there is none.
func (c *Client) PendingMessage(ctx context.Context, sessionID, agentID string) (domain.InboxMessage, bool, error) {
	var resp pendingMessageResponse
	path := fmt.Sprintf("/api/messages/pending?session_id=%s&agent_id=%s", sessionID, agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return domain.InboxMessage{}, false, err
	}
	if resp.Message == nil {
		return domain.InboxMessage{}, false, nil
	}
	m := resp.Message
	return domain.InboxMessage{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Text:         m.Text,
		Type:         domain.MessageType(m.Type),
		ReplyAgentID: m.ReplyAgentID,
		ReplyTo:      m.ReplyTo,
	}, true, nil
}

// PostMessage posts a new message (including replies).
func (c *Client) PostMessage(ctx context.Context, sessionID, toAgentID, text string, msgType domain.MessageType, replyTo string) error {
	body := map[string]any{
		"session_id": sessionID,
		"to":         toAgentID,
		"text":       text,
		"type":       msgType,
		"reply_to":   replyTo,
	}
	return c.do(ctx, http.MethodPost, "/api/messages", body, nil)
}

// AckMessage acknowledges an inbox message. Idempotent: acknowledging twice
// is tolerated, the relay is authoritative on the second call.
func (c *Client) AckMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/messages/%s/ack", messageID), nil, nil)
}

// Heartbeat posts a liveness ping for sessionID. 404 responses are treated
// as benign by the caller via ErrNotFound.
func (c *Client) Heartbeat(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/heartbeat", sessionID), nil, nil)
}

// DaemonState is the patchable subset of session state the daemon may
// update on the relay.
type DaemonState struct {
	IsAway        *bool  `json:"is_away,omitempty"`
	Status        string `json:"status,omitempty"`
	StartedReason string `json:"started_reason,omitempty"`
	StoppedReason string `json:"stopped_reason,omitempty"`
}

// PatchDaemonState updates session daemon-state fields on the relay.
func (c *Client) PatchDaemonState(ctx context.Context, sessionID string, state DaemonState) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/sessions/%s/daemon-state", sessionID), state, nil)
}

type sessionDTO struct {
	ID              string            `json:"id"`
	ClaudeSessionID string            `json:"claude_session_id"`
	Cwd             string            `json:"cwd"`
	Meta            domain.SessionMeta `json:"meta"`
}

// GetSession recovers a session record from the relay (used by the
// registry's lookup-miss recovery path).
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var dto sessionDTO
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s", sessionID), nil, &dto); err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		ID:              dto.ID,
		ClaudeSessionID: dto.ClaudeSessionID,
		Cwd:             dto.Cwd,
		Meta:            dto.Meta,
	}, nil
}

// PostResult stores an execution result on the relay for later delivery
// into the assistant conversation via the pre-tool-use hook.
func (c *Client) PostResult(ctx context.Context, sessionID string, rec domain.ExecutionRecord) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/results", sessionID), rec, nil)
}

type pendingResultsResponse struct {
	Results []PendingResult `json:"results"`
}

// PendingResult is an undelivered execution result awaiting context
// delivery into the assistant conversation.
type PendingResult struct {
	ID   string                  `json:"id"`
	Text string                  `json:"text"`
	Rec  domain.ExecutionRecord  `json:"execution_record"`
}

// PendingResults retrieves undelivered results for sessionID.
func (c *Client) PendingResults(ctx context.Context, sessionID string) ([]PendingResult, error) {
	var resp pendingResultsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s/results/pending", sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// MarkResultDelivered marks a result delivered on the relay.
func (c *Client) MarkResultDelivered(ctx context.Context, sessionID, resultID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/results/%s/delivered", sessionID, resultID), nil, nil)
}

// LogTimelineEvent records a timeline event for sessionID.
func (c *Client) LogTimelineEvent(ctx context.Context, sessionID, eventType string, data map[string]any) error {
	body := map[string]any{"session_id": sessionID, "event_type": eventType, "data": data}
	return c.do(ctx, http.MethodPost, "/api/timeline/log", body, nil)
}
