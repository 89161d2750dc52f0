// Package killswitch implements the global Kill Switch of spec.md §4.5: a
// single process-local boolean mirrored to a distributed cache, consulted
// by every money-moving and money-ingesting code path before it does
// anything else.
package killswitch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hustlexp/moneycore/pkg/merr"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Mirror persists the switch state to a store shared across process
// instances (spec.md §4.5 "mirrored to a distributed cache").
type Mirror interface {
	Set(ctx context.Context, tripped bool, reason string) error
	Get(ctx context.Context) (tripped bool, reason string, err error)
}

// Switch is safe for concurrent use. Reads hit the process-local atomic;
// Trigger/Resolve update both the local flag and the distributed mirror.
type Switch struct {
	Mirror Mirror
	Logger mlog.Logger

	tripped atomic.Bool
	reason  atomic.Value // string
}

// Tripped reports the process-local state without touching the mirror, so
// every hot-path caller pays only an atomic load (spec.md §4.5: "consulted
// first, before any other guard").
func (s *Switch) Tripped() bool {
	return s.tripped.Load()
}

// Reason returns the last recorded trip reason, or "" if not tripped.
func (s *Switch) Reason() string {
	if v, ok := s.reason.Load().(string); ok {
		return v
	}

	return ""
}

// Trigger trips the switch locally and in the distributed mirror. reason
// should be a stable machine code (e.g. "SAGA_RETRY_EXHAUSTION",
// "RECONCILIATION_DRIFT") so operators can filter on it.
func (s *Switch) Trigger(ctx context.Context, reason string) error {
	s.tripped.Store(true)
	s.reason.Store(reason)

	if s.Logger != nil {
		s.Logger.Error("kill switch tripped", "reason", reason)
	}

	if err := s.Mirror.Set(ctx, true, reason); err != nil {
		return fmt.Errorf("killswitch: mirror trip: %w", err)
	}

	return nil
}

// Resolve clears the switch locally and in the distributed mirror. This is
// always an explicit, operator-initiated action (spec.md §4.5): nothing in
// this package ever auto-resolves.
func (s *Switch) Resolve(ctx context.Context) error {
	s.tripped.Store(false)
	s.reason.Store("")

	if s.Logger != nil {
		s.Logger.Info("kill switch resolved")
	}

	if err := s.Mirror.Set(ctx, false, ""); err != nil {
		return fmt.Errorf("killswitch: mirror resolve: %w", err)
	}

	return nil
}

// Refresh polls the mirror and updates the local flag — call this
// periodically from every process instance so a trip issued by one
// instance (or an operator via the mirror directly) propagates without a
// restart.
func (s *Switch) Refresh(ctx context.Context) error {
	tripped, reason, err := s.Mirror.Get(ctx)
	if err != nil {
		return fmt.Errorf("killswitch: refresh: %w", err)
	}

	s.tripped.Store(tripped)
	s.reason.Store(reason)

	return nil
}

// RunRefreshLoop polls Refresh at interval until ctx is done, logging
// (not failing) on transient mirror errors.
func (s *Switch) RunRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && s.Logger != nil {
				s.Logger.Warn("kill switch refresh failed", "error", err)
			}
		}
	}
}

// Guard returns ErrKillSwitchActive if the switch is currently tripped.
// Every MSM/ledger/recovery/ingress entry point calls this first.
func (s *Switch) Guard() error {
	if s.Tripped() {
		return merr.Wrap(merr.ErrKillSwitchActive, "KILL_SWITCH_ACTIVE",
			"kill switch is active: %s", s.Reason())
	}

	return nil
}
