// Package executor runs approved requests dequeued from the approval
// queue, either directly as a shell command (fast path) or delegated to
// the assistant CLI (delegated path), per spec.md §4.6. Execution is
// strictly serial by design: one worker drains the queue.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dundas/teleportation/internal/domain"
	"github.com/dundas/teleportation/internal/execcache"
	"github.com/dundas/teleportation/internal/queue"
	"github.com/dundas/teleportation/internal/registry"
	"github.com/dundas/teleportation/internal/relay"
	"github.com/dundas/teleportation/internal/validator"
)

// MaxOutputBytes is the per-stream capture bound (spec.md §4.6).
const MaxOutputBytes = 100 * 1024

// SessionStateChecker reports whether a session is still active on the
// relay, consulted before dispatch (spec.md §4.6).
type SessionStateChecker func(ctx context.Context, sessionID string) (active bool, err error)

// AssistantCLI locates the assistant binary invoked on the delegated path.
// Defaults to "claude" but is overridable for testing.
var AssistantCLI = "claude"

// Executor drains the approval queue and runs each approval to completion.
type Executor struct {
	queue      *queue.Queue
	cache      *execcache.Cache
	registry   *registry.Registry
	relayClient *relay.Client
	checkActive SessionStateChecker
	bypass      bool
	log         zerolog.Logger
	audit       zerolog.Logger
	childTimeout time.Duration
}

// New constructs an Executor. bypass reflects the whitelist-bypass
// configuration gate (spec.md §4.2). It is fixed for the Executor's
// lifetime: a change to the environment takes effect only after a restart.
func New(q *queue.Queue, cache *execcache.Cache, reg *registry.Registry, client *relay.Client, checkActive SessionStateChecker, bypass bool, childTimeout time.Duration, log, audit zerolog.Logger) *Executor {
	return &Executor{
		queue:        q,
		cache:        cache,
		registry:     reg,
		relayClient:  client,
		checkActive:  checkActive,
		bypass:       bypass,
		childTimeout: childTimeout,
		log:          log,
		audit:        audit,
	}
}

// RunOne dequeues and executes the next approval, if any. It returns false
// if the queue was empty.
func (e *Executor) RunOne(ctx context.Context) bool {
	approval, ok := e.queue.Dequeue()
	if !ok {
		return false
	}
	e.execute(ctx, approval)
	return true
}

func (e *Executor) execute(ctx context.Context, approval domain.Approval) {
	// Duplicate-execution guard: if this approval id is already in the
	// cache as executing, skip silently (spec.md §7, §8).
	if existing, ok := e.cache.Get(approval.ID); ok && existing.Status == domain.ApprovalExecuting {
		return
	}

	sess, ok := e.registry.Lookup(approval.SessionID)
	if !ok {
		e.fail(approval, "session-not-registered", fmt.Errorf("unknown session %s", approval.SessionID))
		return
	}

	active, err := e.checkActive(ctx, approval.SessionID)
	if err != nil || !active {
		e.fail(approval, "session-inactive", fmt.Errorf("session %s is not active: %w", approval.SessionID, err))
		return
	}

	e.cache.Put(domain.ExecutionRecord{
		ApprovalID: approval.ID,
		Status:     domain.ApprovalExecuting,
		StartedAt:  time.Now(),
	})

	// Acknowledge-before-execute: the ack call must complete before the
	// child process starts, preventing a second local approval from
	// racing into duplicate execution. If the ack fails the race is
	// tolerated — C5 short-circuits re-entry above.
	if err := e.relayClient.AckApproval(ctx, approval.ID); err != nil {
		e.log.Warn().Err(err).Str("approval_id", approval.ID).Msg("ack failed before execute; proceeding")
	}

	var rec domain.ExecutionRecord
	if cmd, isFast := approval.Command(); isFast {
		decision := validator.Validate(cmd, e.bypass, e.audit)
		if !decision.Allowed {
			rec = e.deniedRecord(approval, decision.Reason)
		} else {
			rec = e.runFastPath(ctx, approval, sess, cmd)
		}
	} else {
		rec = e.runDelegatedPath(ctx, approval, sess)
	}

	e.cache.Put(rec)
	e.report(ctx, sess.ID, rec)
}

func (e *Executor) fail(approval domain.Approval, reason string, err error) {
	rec := domain.ExecutionRecord{
		ApprovalID:  approval.ID,
		Status:      domain.ApprovalFailed,
		ExitCode:    -1,
		Error:       fmt.Sprintf("%s: %v", reason, err),
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
	}
	e.cache.Put(rec)
	e.log.Error().Err(err).Str("approval_id", approval.ID).Str("reason", reason).Msg("execution aborted")
}

func (e *Executor) deniedRecord(approval domain.Approval, reason string) domain.ExecutionRecord {
	now := time.Now()
	e.log.Info().Str("approval_id", approval.ID).Str("reason", reason).Msg("command denied by validator")
	return domain.ExecutionRecord{
		ApprovalID:  approval.ID,
		Status:      domain.ApprovalFailed,
		ExitCode:    -1,
		Error:       reason,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func (e *Executor) runFastPath(ctx context.Context, approval domain.Approval, sess domain.Session, command string) domain.ExecutionRecord {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.childTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = sess.Cwd

	stdout, stderr := &boundedBuffer{limit: MaxOutputBytes}, &boundedBuffer{limit: MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := runWithPoliteTimeout(ctx, cmd)
	completed := time.Now()

	rec := domain.ExecutionRecord{
		ApprovalID:  approval.ID,
		Status:      domain.ApprovalCompleted,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		rec.TimedOut = true
		rec.Status = domain.ApprovalFailed
		rec.ExitCode = -1
		rec.Error = "execution timed out"
		return rec
	}
	if err != nil {
		rec.Status = domain.ApprovalFailed
		rec.Error = err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			rec.ExitCode = exitErr.ExitCode()
		} else {
			rec.ExitCode = -1
		}
		return rec
	}
	rec.ExitCode = 0
	return rec
}

func (e *Executor) runDelegatedPath(ctx context.Context, approval domain.Approval, sess domain.Session) domain.ExecutionRecord {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.childTimeout)
	defer cancel()

	prompt, _ := approval.ToolInput["prompt"].(string)
	cmd := exec.CommandContext(ctx, AssistantCLI, "--resume", sess.ClaudeSessionID, "--non-interactive", prompt)
	cmd.Dir = sess.Cwd
	cmd.Stdin = nil // closed immediately: delegated path never reads stdin

	stdout, stderr := &boundedBuffer{limit: MaxOutputBytes}, &boundedBuffer{limit: MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := runWithPoliteTimeout(ctx, cmd)
	completed := time.Now()

	rec := domain.ExecutionRecord{
		ApprovalID:  approval.ID,
		Status:      domain.ApprovalCompleted,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		rec.TimedOut = true
		rec.Status = domain.ApprovalFailed
		rec.ExitCode = -1
		rec.Error = "execution timed out"
		return rec
	}
	if err != nil {
		rec.Status = domain.ApprovalFailed
		rec.Error = err.Error()
		rec.ExitCode = -1
		return rec
	}
	rec.ExitCode = 0
	return rec
}

// runWithPoliteTimeout runs cmd to completion or until ctx's deadline,
// sending SIGTERM first on timeout and letting the process clean up for
// up to 5 seconds before it is killed. cmd must come from
// exec.CommandContext; its cancel action is replaced with SIGTERM so the
// kill below is the only hard kill.
func runWithPoliteTimeout(ctx context.Context, cmd *exec.Cmd) error {
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			return <-done
		}
	}
}

func (e *Executor) report(ctx context.Context, sessionID string, rec domain.ExecutionRecord) {
	if err := e.relayClient.ReportExecuted(ctx, rec); err != nil {
		// Retry once on network failure (spec.md §4.6, §9).
		if err2 := e.relayClient.ReportExecuted(ctx, rec); err2 != nil {
			e.log.Warn().Err(err2).Str("approval_id", rec.ApprovalID).Msg("failed to report executed outcome")
		}
	}
	if err := e.relayClient.PostResult(ctx, sessionID, rec); err != nil {
		if err2 := e.relayClient.PostResult(ctx, sessionID, rec); err2 != nil {
			e.log.Warn().Err(err2).Str("approval_id", rec.ApprovalID).Msg("failed to post result for later delivery")
		}
	}
}

// boundedBuffer truncates writes past limit, appending an explicit marker
// line stating the truncated byte count (spec.md §4.6, §8). The marker
// itself is appended only once String is read, so the count it reports
// reflects every truncated byte across the buffer's whole lifetime rather
// than just the bytes seen by whichever Write first crossed the limit.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated += len(p)
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated += len(p) - remaining
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) String() string {
	if b.truncated == 0 {
		return b.buf.String()
	}
	return fmt.Sprintf("%s\n[truncated %d bytes]\n", b.buf.String(), b.truncated)
}
