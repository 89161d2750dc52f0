// Package ledger implements the double-entry ledger of spec.md §4.3: the
// authoritative record of money movements every value-changing operation
// in the system passes through.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/idgen"
	"github.com/hustlexp/moneycore/pkg/merr"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Ledger is the entry point for PrepareTransaction/CommitTransaction.
// Both methods assume they run inside the caller's DB transaction; the
// Ledger itself holds no transaction boundary.
type Ledger struct {
	Accounts     AccountStore
	Transactions TransactionStore
	Snapshots    SnapshotStore
	Logger       mlog.Logger
	Tracer       trace.Tracer
}

// PrepareTransaction validates input, writes a pending LedgerTransaction
// with its entries, and appends a prepare-intent audit row — all inside
// the caller's DB transaction A (spec.md §4.2 step 2, §4.3).
func (l *Ledger) PrepareTransaction(ctx context.Context, input domain.PrepareInput) (*domain.LedgerTransaction, []domain.LedgerEntry, error) {
	ctx, span := l.Tracer.Start(ctx, "ledger.prepare_transaction")
	defer span.End()

	accounts := make(map[string]*domain.Account, len(input.Entries))

	for _, e := range input.Entries {
		acct, err := l.Accounts.LockForUpdate(ctx, e.AccountID)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: load account %s: %w", e.AccountID, err)
		}

		accounts[e.AccountID.String()] = acct
	}

	if err := validatePrepareInput(input, accounts); err != nil {
		return nil, nil, err
	}

	tx := &domain.LedgerTransaction{
		ID:             idgen.NewID(),
		Type:           input.Type,
		IdempotencyKey: input.IdempotencyKey,
		Status:         domain.TxPending,
		Metadata:       input.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	entries := make([]domain.LedgerEntry, 0, len(input.Entries))
	for _, e := range input.Entries {
		entries = append(entries, domain.LedgerEntry{
			TransactionID: tx.ID,
			AccountID:     e.AccountID,
			Direction:     e.Direction,
			Amount:        e.Amount,
		})
	}

	existing, existingEntries, inserted, err := l.Transactions.InsertPending(ctx, tx, entries)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: insert pending transaction: %w", err)
	}

	if !inserted {
		// Deep idempotency check: a replay of the same idempotency key
		// must match the original request exactly, or it's fatal.
		if existing.Type != input.Type || !entriesDeepEqual(existingEntries, entries) {
			return nil, nil, merr.Wrap(merr.ErrLedgerDeepIdempotencyMismatch, "LEDGER_DEEP_IDEMPOTENCY_MISMATCH",
				"idempotency key %s replayed with different transaction content", input.IdempotencyKey)
		}

		return existing, existingEntries, nil
	}

	if err := l.Transactions.AppendPrepareIntentAudit(ctx, tx.ID, input); err != nil {
		return nil, nil, fmt.Errorf("ledger: append prepare-intent audit: %w", err)
	}

	return tx, entries, nil
}

// CommitTransaction applies the signed balance deltas, verifies
// invariants, and advances the transaction to committed — all inside the
// caller's DB transaction B (spec.md §4.2 step 4, §4.3).
func (l *Ledger) CommitTransaction(ctx context.Context, txID uuid.UUID, effect domain.ProviderEffect) (*domain.LedgerTransaction, error) {
	ctx, span := l.Tracer.Start(ctx, "ledger.commit_transaction")
	defer span.End()

	tx, err := l.Transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load transaction %s: %w", txID, err)
	}

	if tx.Status == domain.TxCommitted || tx.Status == domain.TxConfirmed {
		return tx, nil // already committed: idempotent no-op
	}

	entries, err := l.Transactions.GetEntries(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("ledger: load entries for %s: %w", txID, err)
	}

	for _, e := range entries {
		acct, err := l.Accounts.LockForUpdate(ctx, e.AccountID)
		if err != nil {
			return nil, fmt.Errorf("ledger: load account %s: %w", e.AccountID, err)
		}

		delta := acct.SignedDelta(e.Direction, e.Amount)

		if err := l.Accounts.ApplyDelta(ctx, acct.ID, delta, txID); err != nil {
			return nil, fmt.Errorf("ledger: apply delta to account %s: %w", acct.ID, err)
		}
	}

	if err := verifyTransactionInvariants(entries); err != nil {
		return nil, err
	}

	if err := l.Transactions.MarkCommitted(ctx, txID, effect); err != nil {
		return nil, fmt.Errorf("ledger: mark committed: %w", err)
	}

	tx.Status = domain.TxCommitted
	now := time.Now().UTC()
	tx.CommittedAt = &now

	return tx, nil
}

// verifyTransactionInvariants recomputes zero-sum inside the commit
// transaction; any failure must abort the commit (spec.md §4.3).
func verifyTransactionInvariants(entries []domain.LedgerEntry) error {
	var debits, credits int64

	for _, e := range entries {
		if e.Amount <= 0 {
			return merr.Wrap(merr.ErrIntegrityViolation, "LEDGER_NONPOSITIVE_AT_COMMIT",
				"entry for account %s has non-positive amount %d at commit", e.AccountID, e.Amount)
		}

		switch e.Direction {
		case domain.Debit:
			debits += e.Amount
		case domain.Credit:
			credits += e.Amount
		}
	}

	if debits != credits {
		return merr.Wrap(merr.ErrIntegrityViolation, "LEDGER_UNBALANCED_AT_COMMIT",
			"debits %d do not equal credits %d at commit", debits, credits)
	}

	return nil
}

// Snapshot rebuilds and stores a LedgerSnapshot for one account, to be
// invoked by a periodic job (spec.md §4.3).
func (l *Ledger) Snapshot(ctx context.Context, accountID uuid.UUID, balance int64, lastTxID uuid.UUID) error {
	snap := &domain.LedgerSnapshot{
		AccountID: accountID,
		Balance:   balance,
		LastTxID:  lastTxID,
		CreatedAt: time.Now().UTC(),
	}
	snap.SnapshotHash = HashSnapshot(accountID, balance, lastTxID)

	return l.Snapshots.Put(ctx, snap)
}

// VerifySnapshot recomputes the hash and compares it to the stored one,
// treating a mismatch as corrupt (spec.md invariant 7).
func VerifySnapshot(snap *domain.LedgerSnapshot) error {
	if HashSnapshot(snap.AccountID, snap.Balance, snap.LastTxID) != snap.SnapshotHash {
		return merr.Wrap(merr.ErrSnapshotHashMismatch, "SNAPSHOT_HASH_MISMATCH",
			"snapshot for account %s failed hash verification", snap.AccountID)
	}

	return nil
}

// HashSnapshot computes SHA256(accountId|balance|lastTxID) (spec.md §3.1).
func HashSnapshot(accountID uuid.UUID, balance int64, lastTxID uuid.UUID) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", accountID, balance, lastTxID)))
	return hex.EncodeToString(sum[:])
}
