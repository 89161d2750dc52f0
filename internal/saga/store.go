package saga

import (
	"context"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
)

// MoneyLockStore persists MoneyStateLock rows, one per task.
type MoneyLockStore interface {
	// LockForUpdate row-locks the MoneyStateLock for taskID within the
	// caller's DB transaction. When no row exists yet (the first
	// HOLD_ESCROW) it reports existed=false and writes nothing; Update
	// inserts the first row.
	LockForUpdate(ctx context.Context, taskID string) (*domain.MoneyStateLock, bool, error)
	// Update performs a compare-and-swap on Version; ok is false if the
	// row's version no longer matches lock.Version-1 (concurrent writer).
	Update(ctx context.Context, lock *domain.MoneyStateLock) (ok bool, err error)
}

// ProcessedEventStore is the commit barrier (spec.md GLOSSARY): insertion
// defines "the operation happened".
type ProcessedEventStore interface {
	// Exists checks the idempotency gate at the top of Prepare (spec.md
	// §4.2 step 2): "if eventId exists in processed events, return prior
	// result".
	Exists(ctx context.Context, eventID string) (*domain.ProcessedEvent, bool, error)
	// Insert writes the row with ON CONFLICT (eventId) DO NOTHING
	// semantics; it is the commit barrier itself.
	Insert(ctx context.Context, ev domain.ProcessedEvent) (already bool, err error)
}

// AuditStore appends forensic audit rows.
type AuditStore interface {
	Append(ctx context.Context, a domain.MoneyEventAudit) error
}

// AdminActionStore records a pre-transition audit row for admin events.
type AdminActionStore interface {
	Append(ctx context.Context, a domain.AdminAction) error
}

// AccountResolver resolves (and lazily creates) accounts by owner.
type AccountResolver interface {
	GetOrCreate(ctx context.Context, ownerType domain.OwnerType, ownerID string, accountType domain.AccountType, currency domain.Currency) (*domain.Account, error)
}

// TxRunner runs fn inside a single DB transaction. Implementations provide
// fn a context carrying transaction-scoped stores (the postgres adapter
// wires LockForUpdate/Update/Insert/Append above to use the tx, not the
// pool, when invoked from inside RunInTx).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UUIDGen lets tests supply deterministic IDs.
type UUIDGen func() uuid.UUID
