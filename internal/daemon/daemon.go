// Package daemon wires together the session registry, approval queue,
// execution cache, relay client and poller, executor, control HTTP
// server, and idle supervisor into the single persistent process
// described by spec.md §4.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dundas/teleportation/internal/config"
	"github.com/dundas/teleportation/internal/control"
	"github.com/dundas/teleportation/internal/domain"
	"github.com/dundas/teleportation/internal/execcache"
	"github.com/dundas/teleportation/internal/executor"
	"github.com/dundas/teleportation/internal/idle"
	"github.com/dundas/teleportation/internal/pidlock"
	"github.com/dundas/teleportation/internal/queue"
	"github.com/dundas/teleportation/internal/registry"
	"github.com/dundas/teleportation/internal/relay"
)

// Daemon is the assembled process: one registry, one queue, one cache, one
// relay client, one poller, one executor, one control server, one idle
// supervisor, sharing a single cancellation context.
type Daemon struct {
	cfg     config.Config
	log     zerolog.Logger
	audit   zerolog.Logger
	lock    *pidlock.Lock
	reg     *registry.Registry
	q       *queue.Queue
	cache   *execcache.Cache
	client  *relay.Client
	poller  *relay.Poller
	exec    *executor.Executor
	control *control.Server
	idleSup *idle.Supervisor

	httpServer *http.Server
}

// AgentID identifies this daemon as an inbox recipient on the relay.
const AgentID = "daemon"

// New assembles a Daemon from resolved configuration. The PID lock is only
// bound to its path here; Run acquires it and releases it on shutdown.
func New(cfg config.Config, log, audit zerolog.Logger) (*Daemon, error) {
	client := relay.NewClient(cfg.RelayAPIURL, cfg.RelayAPIKey)

	reg := registry.New(func(sessionID string) (domain.Session, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), relay.DefaultTimeout)
		defer cancel()
		sess, err := client.GetSession(ctx, sessionID)
		if err != nil {
			return domain.Session{}, false
		}
		return sess, true
	})

	q := queue.New()
	cache := execcache.New()

	checkActive := func(ctx context.Context, sessionID string) (bool, error) {
		_, err := client.GetSession(ctx, sessionID)
		if err != nil {
			return false, err
		}
		return true, nil
	}

	exec := executor.New(q, cache, reg, client, checkActive, cfg.BypassAllowed(), cfg.ChildTimeout, log.With().Str("component", "executor").Logger(), audit)

	dispatch := func(ctx context.Context, sessionID string, msg domain.InboxMessage) (string, error) {
		approval := domain.Approval{
			ID:        msg.ID,
			SessionID: sessionID,
			ToolName:  "command",
			ToolInput: map[string]any{"prompt": msg.Text},
		}
		if err := q.Enqueue(approval); err != nil {
			return "", err
		}
		// The executor records the approval as executing before it runs, so
		// wait for a completed or failed record, not merely for presence.
		for {
			if rec, ok := cache.Get(approval.ID); ok &&
				(rec.Status == domain.ApprovalCompleted || rec.Status == domain.ApprovalFailed) {
				if rec.Error != "" {
					return rec.Error, nil
				}
				return rec.Stdout, nil
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	poller := relay.NewPoller(client, reg, q, cache, dispatch, AgentID, log.With().Str("component", "poller").Logger())

	ctrl := control.New(reg, q, cache, log.With().Str("component", "control").Logger())

	idleSup := idle.New(reg, cfg.IdleCheckInterval, cfg.IdleTimeout, log.With().Str("component", "idle").Logger())

	lock := pidlock.New(pidLockPath(cfg.StateDir))

	return &Daemon{
		cfg:     cfg,
		log:     log,
		audit:   audit,
		lock:    lock,
		reg:     reg,
		q:       q,
		cache:   cache,
		client:  client,
		poller:  poller,
		exec:    exec,
		control: ctrl,
		idleSup: idleSup,
	}, nil
}

func pidLockPath(stateDir string) string {
	return stateDir + "/daemon.pid"
}

// Run acquires the PID lock, starts every subsystem, and blocks until
// SIGTERM/SIGINT or the idle supervisor triggers shutdown. It returns after
// the documented shutdown sequence completes (spec.md §5).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.lock.Acquire(os.Getpid(), ""); err != nil {
		return fmt.Errorf("acquiring PID lock: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", d.cfg.DaemonPort)
	d.httpServer = d.control.ListenAndServe(addr)

	group.Go(func() error {
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		d.poller.Run(gctx)
		return nil
	})

	group.Go(func() error {
		d.runExecutorLoop(gctx)
		return nil
	})

	group.Go(func() error {
		d.idleSup.Run(gctx, stop)
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				d.cache.Sweep(now)
			}
		}
	})

	<-gctx.Done()
	d.shutdown()

	_ = group.Wait()
	return nil
}

// runExecutorLoop drains the queue at a steady cadence; the executor is
// strictly serial by design (spec.md §5).
func (d *Daemon) runExecutorLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for d.exec.RunOne(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// shutdown implements the documented sequence: stop accepting new HTTP
// connections (draining in-flight ones), then release the PID lock.
// Running child processes are not forcibly killed.
func (d *Daemon) shutdown() {
	d.log.Info().Msg("shutdown sequence starting")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.log.Warn().Err(err).Msg("control server did not drain cleanly")
	}

	if err := d.lock.Release(); err != nil {
		d.log.Warn().Err(err).Msg("releasing PID lock failed")
	}

	d.log.Info().Msg("shutdown complete")
}
