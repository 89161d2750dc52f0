// Package recovery implements spec.md §4.4: the Pending Reaper, DLQ
// Processor, Backfill, and Reconciler loops that bound how long a crash
// window between ledger and provider state can persist.
package recovery

import (
	"context"
	"strings"
	"time"

	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/internal/ledger"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// ledgerPrefix is stripped from a ledger idempotencyKey to get the
// provider-outbound key it should match against (spec.md §4.4).
const ledgerPrefix = "ledger_"

// Reaper finds stuck pending transactions and either fails them
// (crash_pre_execute) or re-enters the commit path (crash_post_execute).
type Reaper struct {
	Ledger      *ledger.Ledger
	Txs         LedgerTxStore
	Outbound    ProviderOutboundStore
	KillSwitch  *killswitch.Switch
	Logger      mlog.Logger
	StuckAfter  time.Duration // default 1 minute
}

// Run executes one pass. Call on startup and on a periodic cadence.
func (r *Reaper) Run(ctx context.Context) error {
	if r.KillSwitch.Tripped() {
		if r.Logger != nil {
			r.Logger.Info("reaper: kill switch active, skipping pass")
		}

		return nil
	}

	stuckAfter := r.StuckAfter
	if stuckAfter == 0 {
		stuckAfter = time.Minute
	}

	pending, err := r.Txs.FindPendingOlderThan(ctx, stuckAfter)
	if err != nil {
		return err
	}

	for _, tx := range pending {
		stripped := strings.TrimPrefix(tx.IdempotencyKey, ledgerPrefix)

		found, effect, err := r.Outbound.Find(ctx, stripped)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn("reaper: provider lookup failed, skipping this pass", "tx", tx.ID, "error", err)
			}

			continue
		}

		if !found {
			// Crash before or during Execute, with no provider side
			// effect ever created: nothing happened at the provider,
			// so the hold entries never affected balances.
			if err := r.Txs.DeleteEntries(ctx, tx.ID); err != nil {
				return err
			}

			if err := r.Txs.MarkFailed(ctx, tx.ID, "crash_pre_execute"); err != nil {
				return err
			}

			if r.Logger != nil {
				r.Logger.Info("reaper: reaped stuck pending transaction", "tx", tx.ID, "reason", "crash_pre_execute")
			}

			continue
		}

		// Crash after Execute succeeded, before Commit: the provider
		// record exists, so replay the commit path with the recovered IDs.
		if _, err := r.Ledger.CommitTransaction(ctx, tx.ID, effect); err != nil {
			if r.Logger != nil {
				r.Logger.Warn("reaper: commit replay failed, will retry next pass", "tx", tx.ID, "error", err)
			}

			continue
		}

		if r.Logger != nil {
			r.Logger.Info("reaper: replayed commit for recovered transaction", "tx", tx.ID)
		}
	}

	return nil
}
