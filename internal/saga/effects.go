package saga

import (
	"context"
	"fmt"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/provider"
)

// entrySpec is a resolved (not-yet-account-ID'd) leg of a transaction.
type entrySpec struct {
	ownerType domain.OwnerType
	ownerID   string
	acctType  domain.AccountType
	direction domain.Direction
	amount    int64
}

// buildEntries returns the ledger entries for an event, per spec.md's
// worked scenarios (§8): HOLD books poster-receivable/task-escrow; RELEASE
// (and RESOLVE_UPHOLD, which finalizes a dispute in the worker's favor)
// books a two-pair transaction (escrow→worker, escrow→platform-fee);
// REFUND (and RESOLVE_REFUND) reverses the hold; FORCE_REFUND reverses
// both the hold and the release. DISPUTE_OPEN and WEBHOOK_PAYOUT_PAID are
// state-only: they return nil, meaning no ledger transaction is prepared.
func buildEntries(ctx context.Context, req Request, accounts AccountResolver) ([]domain.EntryInput, error) {
	specs := entrySpecsFor(req)
	if specs == nil {
		return nil, nil
	}

	entries := make([]domain.EntryInput, 0, len(specs))

	for _, s := range specs {
		acct, err := accounts.GetOrCreate(ctx, s.ownerType, s.ownerID, s.acctType, domain.USD)
		if err != nil {
			return nil, fmt.Errorf("saga: resolve account %s/%s: %w", s.ownerType, s.ownerID, err)
		}

		entries = append(entries, domain.EntryInput{AccountID: acct.ID, Direction: s.direction, Amount: s.amount})
	}

	return entries, nil
}

func entrySpecsFor(req Request) []entrySpec {
	payout := req.TaskPriceCents - req.FeeCents

	switch req.Event {
	case domain.EventHoldEscrow:
		return []entrySpec{
			{domain.OwnerUser, req.PosterID, domain.AccountLiability, domain.Debit, req.TaskPriceCents},
			{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Credit, req.TaskPriceCents},
		}

	case domain.EventReleasePayout, domain.EventResolveUphold:
		specs := []entrySpec{
			{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Debit, payout},
			{domain.OwnerUser, req.WorkerID, domain.AccountLiability, domain.Credit, payout},
		}

		if req.FeeCents > 0 {
			specs = append(specs,
				entrySpec{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Debit, req.FeeCents},
				entrySpec{domain.OwnerPlatform, "platform", domain.AccountEquity, domain.Credit, req.FeeCents},
			)
		}

		return specs

	case domain.EventRefundEscrow, domain.EventResolveRefund:
		return []entrySpec{
			{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Debit, req.TaskPriceCents},
			{domain.OwnerUser, req.PosterID, domain.AccountLiability, domain.Credit, req.TaskPriceCents},
		}

	case domain.EventForceRefund:
		specs := []entrySpec{
			// undo the release: credit task-escrow, debit worker
			{domain.OwnerUser, req.WorkerID, domain.AccountLiability, domain.Debit, payout},
			{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Credit, payout},
			// undo the hold: credit poster, debit task-escrow
			{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Debit, req.TaskPriceCents},
			{domain.OwnerUser, req.PosterID, domain.AccountLiability, domain.Credit, req.TaskPriceCents},
		}

		if req.FeeCents > 0 {
			specs = append(specs,
				entrySpec{domain.OwnerPlatform, "platform", domain.AccountEquity, domain.Debit, req.FeeCents},
				entrySpec{domain.OwnerTask, req.TaskID, domain.AccountLiability, domain.Credit, req.FeeCents},
			)
		}

		return specs

	default:
		return nil
	}
}

// execute runs the Execute phase (spec.md §4.2 step 3): a provider call
// outside any DB transaction, with a deterministic idempotency key. Events
// with no money movement (DISPUTE_OPEN, WEBHOOK_PAYOUT_PAID) are a no-op.
func execute(ctx context.Context, req Request, eventID string, lock *domain.MoneyStateLock, proc provider.Processor) (domain.ProviderEffect, error) {
	var effect domain.ProviderEffect

	switch req.Event {
	case domain.EventHoldEscrow:
		hold, err := proc.CreateHold(ctx, provider.IdempotencyKey(eventID, provider.SuffixConfirm), req.TaskPriceCents, req.PaymentMethodID, stringMetadata(req))
		if err != nil {
			return effect, err
		}

		effect.PaymentIntentID = hold.PaymentIntentID
		effect.ChargeID = hold.ChargeID

	case domain.EventReleasePayout, domain.EventResolveUphold:
		if err := proc.Capture(ctx, provider.IdempotencyKey(eventID, provider.SuffixCapture), lock.PaymentIntentID); err != nil {
			return effect, err
		}

		effect.PaymentIntentID = lock.PaymentIntentID
		effect.ChargeID = lock.ChargeID

		xfer, err := proc.Transfer(ctx, provider.IdempotencyKey(eventID, provider.SuffixTransfer), req.TaskPriceCents-req.FeeCents, req.WorkerID, lock.ChargeID, req.TaskID)
		if err != nil {
			return effect, err
		}

		effect.TransferID = xfer.TransferID

	case domain.EventRefundEscrow, domain.EventResolveRefund:
		if err := proc.Cancel(ctx, provider.IdempotencyKey(eventID, provider.SuffixCancel), lock.PaymentIntentID, string(req.Event)); err != nil {
			return effect, err
		}

		effect.PaymentIntentID = lock.PaymentIntentID

	case domain.EventForceRefund:
		rev, err := proc.ReverseTransfer(ctx, provider.IdempotencyKey(eventID, provider.SuffixReversal), lock.TransferID, req.TaskPriceCents-req.FeeCents)
		if err != nil {
			return effect, err
		}

		effect.TransferID = lock.TransferID

		// Open Question #3 (spec.md §9): on reversal success the charge
		// refund is retried indefinitely via the DLQ rather than ever
		// surfacing partial success. A refund failure here does not fail
		// this Execute call; the caller enqueues a DLQ retry and still
		// commits the reversal.
		refund, err := proc.Refund(ctx, provider.IdempotencyKey(eventID, provider.SuffixRefund), lock.PaymentIntentID, req.TaskPriceCents-req.FeeCents)
		if err != nil {
			effect.RefundID = ""
			_ = rev // reversal id retained via lock.TransferID; nothing else to stash
			return effect, &pendingRefundError{reversal: effect, err: err}
		}

		effect.RefundID = refund.RefundID
		effect.PaymentIntentID = lock.PaymentIntentID
	}

	return effect, nil
}

// pendingRefundError signals that the transfer reversal succeeded but the
// charge refund did not; Handle commits the reversal anyway and enqueues
// a DLQ retry for the refund leg, per Open Question #3.
type pendingRefundError struct {
	reversal domain.ProviderEffect
	err      error
}

func (e *pendingRefundError) Error() string { return "saga: post-payout refund pending: " + e.err.Error() }
func (e *pendingRefundError) Unwrap() error  { return e.err }

func stringMetadata(req Request) map[string]string {
	return map[string]string{
		"taskId":   req.TaskID,
		"posterId": req.PosterID,
	}
}
