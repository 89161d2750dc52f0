package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a LedgerEntry.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// TxStatus is the lifecycle state of a LedgerTransaction (spec.md §3.3).
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxExecuting TxStatus = "executing"
	TxCommitted TxStatus = "committed"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// LedgerTransaction is append-only except for Status and metadata merges.
type LedgerTransaction struct {
	ID             uuid.UUID // time-ordered (UUIDv7)
	Type           string
	IdempotencyKey string // UNIQUE
	Status         TxStatus
	Metadata       map[string]any
	CreatedAt      time.Time
	CommittedAt    *time.Time
}

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	TransactionID uuid.UUID
	AccountID     uuid.UUID
	Direction     Direction
	Amount        int64 // > 0
}

// LedgerSnapshot is rebuilt periodically per account; its hash is
// verified on every read (spec.md invariant 7).
type LedgerSnapshot struct {
	AccountID    uuid.UUID
	Balance      int64
	LastTxID     uuid.UUID
	SnapshotHash string
	CreatedAt    time.Time
}

// EntryInput is one leg of a transaction as supplied to PrepareTransaction.
type EntryInput struct {
	AccountID uuid.UUID
	Direction Direction
	Amount    int64
}

// PrepareInput is the full input to Ledger.PrepareTransaction.
type PrepareInput struct {
	IdempotencyKey string
	Type           string
	Metadata       map[string]any
	Entries        []EntryInput
}

// ProviderEffect is the normalized result of the Execute phase, fed into
// Ledger.CommitTransaction (spec.md §4.2 step 4).
type ProviderEffect struct {
	PaymentIntentID string
	ChargeID        string
	TransferID      string
	RefundID        string
}
