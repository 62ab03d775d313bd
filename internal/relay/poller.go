package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dundas/teleportation/internal/domain"
)

// DefaultPollInterval is the per-session tick period (spec.md §4.7).
const DefaultPollInterval = 5 * time.Second

// DefaultHeartbeatInterval is how stale a session's last heartbeat may get
// before the poller sends a fresh one (spec.md §4.7).
const DefaultHeartbeatInterval = 30 * time.Second

// Enqueuer accepts an approval into the local execution queue.
type Enqueuer interface {
	Enqueue(domain.Approval) error
	Contains(id string) bool
}

// Dispatcher hands an inbox command approval to the executor's fast or
// delegated path and returns a textual reply to send back.
type Dispatcher func(ctx context.Context, sessionID string, msg domain.InboxMessage) (reply string, err error)

// SessionSource enumerates currently registered sessions. The last
// heartbeat sent per session is tracked by the Poller itself.
type SessionSource interface {
	Iterate(fn func(domain.Session))
}

// Poller drives the three best-effort per-session actions described in
// spec.md §4.7: fetch allowed approvals, handle one pending inbox message,
// and refresh a stale heartbeat. A failure in one action never blocks the
// others or poisons the next tick.
type Poller struct {
	client      *Client
	sessions    SessionSource
	queue       Enqueuer
	cache       interface{ Contains(string) bool }
	dispatch    Dispatcher
	agentID     string
	interval    time.Duration
	heartbeatAt time.Duration
	log         zerolog.Logger

	lastHeartbeat map[string]time.Time
}

// NewPoller constructs a Poller. agentID identifies this daemon as the
// inbox recipient ("daemon") when fetching pending messages.
func NewPoller(client *Client, sessions SessionSource, queue Enqueuer, cache interface{ Contains(string) bool }, dispatch Dispatcher, agentID string, log zerolog.Logger) *Poller {
	return &Poller{
		client:        client,
		sessions:      sessions,
		queue:         queue,
		cache:         cache,
		dispatch:      dispatch,
		agentID:       agentID,
		interval:      DefaultPollInterval,
		heartbeatAt:   DefaultHeartbeatInterval,
		log:           log,
		lastHeartbeat: make(map[string]time.Time),
	}
}

// Tick runs one poll cycle across every currently registered session.
func (p *Poller) Tick(ctx context.Context) {
	var sessions []domain.Session
	p.sessions.Iterate(func(s domain.Session) { sessions = append(sessions, s) })

	for _, sess := range sessions {
		p.pollApprovals(ctx, sess)
		p.pollInbox(ctx, sess)
		p.pollHeartbeat(ctx, sess)
	}
}

// Run drives Tick on p.interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

func (p *Poller) pollApprovals(ctx context.Context, sess domain.Session) {
	approvals, err := p.client.ListAllowedApprovals(ctx, sess.ID)
	if err != nil {
		p.log.Warn().Err(err).Str("session_id", sess.ID).Msg("poll approvals failed")
		return
	}
	for _, a := range approvals {
		if p.queue.Contains(a.ID) || p.cache.Contains(a.ID) {
			continue
		}
		if err := p.queue.Enqueue(a); err != nil {
			p.log.Warn().Err(err).Str("session_id", sess.ID).Str("approval_id", a.ID).Msg("enqueue failed")
		}
	}
}

func (p *Poller) pollInbox(ctx context.Context, sess domain.Session) {
	msg, ok, err := p.client.PendingMessage(ctx, sess.ID, p.agentID)
	if err != nil {
		p.log.Warn().Err(err).Str("session_id", sess.ID).Msg("poll inbox failed")
		return
	}
	if !ok {
		return
	}

	if msg.Type != domain.MessageCommand {
		if err := p.client.AckMessage(ctx, msg.ID); err != nil {
			p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("ack non-command message failed")
		}
		return
	}

	if err := p.client.InvalidateApprovals(ctx, sess.ID, "superseded by inbox command"); err != nil {
		p.log.Warn().Err(err).Str("session_id", sess.ID).Msg("invalidate approvals before dispatch failed")
	}

	reply, dispatchErr := p.dispatch(ctx, sess.ID, msg)
	if dispatchErr != nil {
		reply = fmt.Sprintf("command dispatch failed: %v", dispatchErr)
		p.log.Error().Err(dispatchErr).Str("session_id", sess.ID).Str("message_id", msg.ID).Msg("inbox command dispatch failed")
	}

	if msg.ReplyAgentID != "" {
		if err := p.client.PostMessage(ctx, sess.ID, msg.ReplyAgentID, reply, domain.MessageResult, msg.ID); err != nil {
			p.log.Warn().Err(err).Str("session_id", sess.ID).Msg("posting reply failed")
		}
	}

	if err := p.client.AckMessage(ctx, msg.ID); err != nil {
		p.log.Warn().Err(err).Str("message_id", msg.ID).Msg("ack command message failed")
	}
}

func (p *Poller) pollHeartbeat(ctx context.Context, sess domain.Session) {
	last, ok := p.lastHeartbeat[sess.ID]
	if ok && time.Since(last) < p.heartbeatAt {
		return
	}
	err := p.client.Heartbeat(ctx, sess.ID)
	if err != nil && err != ErrNotFound {
		p.log.Warn().Err(err).Str("session_id", sess.ID).Msg("heartbeat failed")
		return
	}
	p.lastHeartbeat[sess.ID] = time.Now()
}
