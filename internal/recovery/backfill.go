package recovery

import (
	"context"
	"time"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// UnallocatedCashReviewReason is the reason tag on the booking made to
// unallocated cash when an orphan cannot be reconstructed semantically.
const UnallocatedCashReviewReason = "unallocated_cash_manual_review"

// Reconstructor attempts to turn one orphan mirror row into a real
// ledger movement; it returns ok=false when the metadata isn't enough to
// reconstruct the semantic transaction, in which case Backfill books the
// amount to the unallocated-cash account instead.
type Reconstructor interface {
	TryReconstruct(ctx context.Context, orphan domain.ProviderBalanceMirror) (ok bool, err error)
	BookUnallocated(ctx context.Context, orphan domain.ProviderBalanceMirror) error
}

// Backfill scans the provider balance mirror for rows with no
// corresponding ledger transaction and reconciles them (spec.md §4.4).
type Backfill struct {
	Mirror        MirrorStore
	Reconstructor Reconstructor
	KillSwitch    *killswitch.Switch
	Logger        mlog.Logger
}

func (b *Backfill) Run(ctx context.Context) error {
	if b.KillSwitch.Tripped() {
		if b.Logger != nil {
			b.Logger.Info("backfill: kill switch active, skipping pass")
		}

		return nil
	}

	orphans, err := b.Mirror.OrphansWithoutLedgerTx(ctx)
	if err != nil {
		return err
	}

	for _, orphan := range orphans {
		ok, err := b.Reconstructor.TryReconstruct(ctx, orphan)
		if err != nil {
			if b.Logger != nil {
				b.Logger.Warn("backfill: reconstruction failed, booking to unallocated cash", "provider_id", orphan.ID, "error", err)
			}

			ok = false
		}

		if ok {
			continue
		}

		if err := b.Reconstructor.BookUnallocated(ctx, orphan); err != nil {
			return err
		}

		if b.Logger != nil {
			b.Logger.Warn("backfill: booked orphan to unallocated cash for manual review", "provider_id", orphan.ID)
		}
	}

	return nil
}

// Reconciler cross-joins provider balance history against ledger escrow
// holds, flagging holds whose provider counterpart is missing beyond a
// sync-delay tolerance (spec.md §4.4).
type Reconciler struct {
	Mirror             MirrorStore
	Fetcher            BalanceFetcher
	KillSwitch         *killswitch.Switch
	Logger             mlog.Logger
	SyncDelayTolerance time.Duration // default 5 minutes
	Window             time.Duration // default 24 hours
}

func (r *Reconciler) Run(ctx context.Context) error {
	if r.KillSwitch.Tripped() {
		if r.Logger != nil {
			r.Logger.Info("reconciler: kill switch active, skipping pass")
		}

		return nil
	}

	window := r.Window
	if window == 0 {
		window = 24 * time.Hour
	}

	rows, err := r.Fetcher.FetchRecent(ctx, time.Now().UTC().Add(-window))
	if err != nil {
		return err
	}

	if err := r.Mirror.Upsert(ctx, rows); err != nil {
		return err
	}

	tolerance := r.SyncDelayTolerance
	if tolerance == 0 {
		tolerance = 5 * time.Minute
	}

	missing, err := r.Mirror.EscrowHoldsMissingProviderCounterpart(ctx, tolerance)
	if err != nil {
		return err
	}

	for _, txID := range missing {
		if r.Logger != nil {
			r.Logger.Error("reconciler: escrow hold has no provider counterpart beyond tolerance", "tx", txID)
		}
	}

	return nil
}
