package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
)

// AccountStore resolves and mutates accounts. Implementations must take
// their row lock (SELECT ... FOR UPDATE) inside LockForUpdate when called
// from within the caller's DB transaction.
type AccountStore interface {
	GetOrCreate(ctx context.Context, ownerType domain.OwnerType, ownerID string, accountType domain.AccountType, currency domain.Currency) (*domain.Account, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// ApplyDelta must enforce monotonic causality (spec.md invariant 3):
	// it rejects with merr.ErrLedgerMonotonicityViolation when newLastTxID
	// is not strictly greater than the account's current last committed
	// transaction ID.
	ApplyDelta(ctx context.Context, id uuid.UUID, delta int64, newLastTxID uuid.UUID) error
}

// TransactionStore persists LedgerTransaction + LedgerEntry rows.
type TransactionStore interface {
	// InsertPending writes a new pending transaction with its entries
	// using ON CONFLICT (idempotencyKey) DO NOTHING semantics. When a
	// row already existed, existing/existingEntries are populated and
	// inserted is false.
	InsertPending(ctx context.Context, tx *domain.LedgerTransaction, entries []domain.LedgerEntry) (existing *domain.LedgerTransaction, existingEntries []domain.LedgerEntry, inserted bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerTransaction, error)
	GetEntries(ctx context.Context, id uuid.UUID) ([]domain.LedgerEntry, error)
	MarkCommitted(ctx context.Context, id uuid.UUID, effect domain.ProviderEffect) error
	AppendPrepareIntentAudit(ctx context.Context, txID uuid.UUID, input domain.PrepareInput) error
}

// SnapshotStore persists per-account LedgerSnapshot rows.
type SnapshotStore interface {
	Get(ctx context.Context, accountID uuid.UUID) (*domain.LedgerSnapshot, error)
	Put(ctx context.Context, snap *domain.LedgerSnapshot) error
}
