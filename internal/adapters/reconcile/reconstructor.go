// Package reconcile implements internal/recovery.Reconstructor: turning a
// provider balance mirror row with no ledger counterpart into either a
// remediation entry against the task it belongs to, or, when no task can
// be identified, a booking to the platform's unallocated-cash account for
// manual review (spec.md §4.4).
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/ledger"
	"github.com/hustlexp/moneycore/internal/recovery"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// TaskLookup resolves which task (if any) a provider reference (payment
// intent, charge, transfer, or refund id) belongs to.
type TaskLookup interface {
	FindTaskIDByProviderRef(ctx context.Context, ref string) (taskID string, ok bool, err error)
}

// Reconstructor implements internal/recovery.Reconstructor against the
// ledger directly, bypassing internal/saga: these bookings are not a
// response to a user-initiated event, they are the recovery loop's own
// correction for money the system did not learn about any other way.
type Reconstructor struct {
	Tasks  TaskLookup
	Ledger *ledger.Ledger
	Logger mlog.Logger
}

var _ recovery.Reconstructor = (*Reconstructor)(nil)

// TryReconstruct attempts to attribute orphan to a known task's escrow
// account. It returns ok=false (never an error for "no match found") so
// Backfill falls back to BookUnallocated.
func (r *Reconstructor) TryReconstruct(ctx context.Context, orphan domain.ProviderBalanceMirror) (bool, error) {
	taskID, found, err := r.Tasks.FindTaskIDByProviderRef(ctx, orphan.SourceID)
	if err != nil {
		return false, fmt.Errorf("reconcile: find task for %s: %w", orphan.SourceID, err)
	}

	if !found {
		return false, nil
	}

	taskEscrow, err := r.Ledger.Accounts.GetOrCreate(ctx, domain.OwnerTask, taskID, domain.AccountLiability, orphan.Currency)
	if err != nil {
		return false, fmt.Errorf("reconcile: resolve task escrow account: %w", err)
	}

	reconciliation, err := r.Ledger.Accounts.GetOrCreate(ctx, domain.OwnerPlatform, "reconciliation", domain.AccountEquity, orphan.Currency)
	if err != nil {
		return false, fmt.Errorf("reconcile: resolve reconciliation account: %w", err)
	}

	if err := r.book(ctx, orphan, taskEscrow.ID, reconciliation.ID, "reconciled_from_provider_mirror"); err != nil {
		return false, err
	}

	if r.Logger != nil {
		r.Logger.Info("reconcile: attributed orphan to task", "provider_id", orphan.ID, "task_id", taskID)
	}

	return true, nil
}

// BookUnallocated records orphan against the platform's unallocated-cash
// account when no owning task could be identified.
func (r *Reconstructor) BookUnallocated(ctx context.Context, orphan domain.ProviderBalanceMirror) error {
	unallocated, err := r.Ledger.Accounts.GetOrCreate(ctx, domain.OwnerPlatform, "unallocated_cash", domain.AccountAsset, orphan.Currency)
	if err != nil {
		return fmt.Errorf("reconcile: resolve unallocated cash account: %w", err)
	}

	reconciliation, err := r.Ledger.Accounts.GetOrCreate(ctx, domain.OwnerPlatform, "reconciliation", domain.AccountEquity, orphan.Currency)
	if err != nil {
		return fmt.Errorf("reconcile: resolve reconciliation account: %w", err)
	}

	return r.book(ctx, orphan, unallocated.ID, reconciliation.ID, recovery.UnallocatedCashReviewReason)
}

// book prepares and immediately commits a two-leg transaction debiting
// primary and crediting counterpart (or the reverse, for negative
// provider amounts), tagged with reason for the manual-review queue.
func (r *Reconstructor) book(ctx context.Context, orphan domain.ProviderBalanceMirror, primary, counterpart uuid.UUID, reason string) error {
	amount := orphan.Amount
	primaryDir, counterpartDir := domain.Debit, domain.Credit
	if amount < 0 {
		amount = -amount
		primaryDir, counterpartDir = domain.Credit, domain.Debit
	}

	input := domain.PrepareInput{
		IdempotencyKey: "reconcile_" + orphan.ID,
		Type:           "RECONCILE_PROVIDER_MIRROR",
		Metadata: map[string]any{
			"provider_id": orphan.ID,
			"reason":      reason,
			"source_id":   orphan.SourceID,
		},
		Entries: []domain.EntryInput{
			{AccountID: primary, Direction: primaryDir, Amount: amount},
			{AccountID: counterpart, Direction: counterpartDir, Amount: amount},
		},
	}

	tx, _, err := r.Ledger.PrepareTransaction(ctx, input)
	if err != nil {
		return fmt.Errorf("reconcile: prepare: %w", err)
	}

	if _, err := r.Ledger.CommitTransaction(ctx, tx.ID, domain.ProviderEffect{}); err != nil {
		return fmt.Errorf("reconcile: commit: %w", err)
	}

	return nil
}
