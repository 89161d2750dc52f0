package recovery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
)

// PendingTx is a minimal view of a ledger transaction the reaper needs.
type PendingTx struct {
	ID             uuid.UUID
	IdempotencyKey string
	CreatedAt      time.Time
}

// LedgerTxStore is the subset of ledger persistence the recovery loops need.
type LedgerTxStore interface {
	FindPendingOlderThan(ctx context.Context, age time.Duration) ([]PendingTx, error)
	DeleteEntries(ctx context.Context, txID uuid.UUID) error
	MarkFailed(ctx context.Context, txID uuid.UUID, reason string) error
}

// ProviderOutboundStore answers whether a provider-side record exists for
// a stripped idempotency key (i.e. the key minus the "ledger_" prefix).
type ProviderOutboundStore interface {
	Find(ctx context.Context, strippedKey string) (found bool, effect domain.ProviderEffect, err error)
}

// DLQStore persists PendingAction rows.
type DLQStore interface {
	Insert(ctx context.Context, action domain.PendingAction) error
	FindDue(ctx context.Context, now time.Time) ([]domain.PendingAction, error)
	MarkRetry(ctx context.Context, id string, nextRetryAt time.Time, retryCount int, errorLog string) error
	MarkDead(ctx context.Context, id string, errorLog string) error
	MarkResolved(ctx context.Context, id string) error
}

// Enqueuer adapts a DLQStore to the saga package's DLQEnqueuer interface,
// so the saga orchestrator never needs to import internal/recovery directly.
type Enqueuer struct {
	Store DLQStore
}

func (e *Enqueuer) Enqueue(ctx context.Context, action domain.PendingAction) error {
	return e.Store.Insert(ctx, action)
}

// Handler runs one PendingAction's typed action (e.g. COMMIT_TX, REVERSE_STRIPE).
type Handler interface {
	Handle(ctx context.Context, action domain.PendingAction) error
}

// MirrorStore is the provider balance mirror table.
type MirrorStore interface {
	Upsert(ctx context.Context, rows []domain.ProviderBalanceMirror) error
	OrphansWithoutLedgerTx(ctx context.Context) ([]domain.ProviderBalanceMirror, error)
	EscrowHoldsMissingProviderCounterpart(ctx context.Context, syncDelayTolerance time.Duration) ([]uuid.UUID, error)
}

// BalanceFetcher pulls a bounded window of provider balance transactions.
type BalanceFetcher interface {
	FetchRecent(ctx context.Context, since time.Time) ([]domain.ProviderBalanceMirror, error)
}
