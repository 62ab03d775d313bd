// Package idle implements the daemon's self-shutdown supervisor (spec.md
// §4.9): when the session registry has been empty for idle_timeout, the
// daemon shuts itself down rather than running forever on no work.
package idle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dundas/teleportation/internal/registry"
)

// DefaultCheckInterval is the tick period for the idle check (spec.md §4.9).
const DefaultCheckInterval = 5 * time.Minute

// DefaultIdleTimeout is how long the registry must stay empty before
// shutdown begins (spec.md §4.9).
const DefaultIdleTimeout = 30 * time.Minute

// Supervisor watches the session registry and triggers shutdown on
// sustained idleness.
type Supervisor struct {
	reg           *registry.Registry
	checkInterval time.Duration
	idleTimeout   time.Duration
	log           zerolog.Logger
}

// New constructs a Supervisor.
func New(reg *registry.Registry, checkInterval, idleTimeout time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{reg: reg, checkInterval: checkInterval, idleTimeout: idleTimeout, log: log}
}

// Run blocks until ctx is canceled or the idle condition is met, in which
// case it invokes shutdown and returns. shutdown is responsible for the
// documented shutdown sequence (stop poller, drain HTTP server, release PID
// lock, exit).
func (s *Supervisor) Run(ctx context.Context, shutdown func()) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.idleExceeded() {
				continue
			}
			// Re-check immediately before acting: a session may have
			// registered between the tick firing and this instant.
			if !s.idleExceeded() {
				s.log.Debug().Msg("idle shutdown aborted: session registered during re-check")
				continue
			}
			s.log.Info().Dur("idle_for", time.Since(s.reg.LastActivity())).Msg("idle timeout reached, shutting down")
			shutdown()
			return
		}
	}
}

func (s *Supervisor) idleExceeded() bool {
	if s.reg.Len() != 0 {
		return false
	}
	return time.Since(s.reg.LastActivity()) >= s.idleTimeout
}
