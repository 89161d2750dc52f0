package domain

import "time"

// AppLock is an application-level mutex with TTL and owner-scoped
// release/steal semantics (spec.md §4.8).
type AppLock struct {
	ResourceID string
	OwnerID    string
	ExpiresAt  time.Time
}

// PendingActionStatus is a DLQ row's lifecycle state.
type PendingActionStatus string

const (
	PendingActionPending  PendingActionStatus = "pending"
	PendingActionFailed   PendingActionStatus = "failed"
	PendingActionResolved PendingActionStatus = "resolved"
	PendingActionDead     PendingActionStatus = "dead"
)

// PendingAction is a DLQ row (spec.md §3.1, §4.4).
type PendingAction struct {
	ID            string
	TransactionID string
	Type          string // e.g. "COMMIT_TX", "REVERSE_STRIPE"
	Payload       map[string]any
	RetryCount    int
	Status        PendingActionStatus
	NextRetryAt   time.Time
	ErrorLog      string
}

// ProviderBalanceMirror is upserted from the processor's balance history
// by the Backfill/Reconciler loops (spec.md §3.1, §4.4).
type ProviderBalanceMirror struct {
	ID                string // provider-assigned
	Amount            int64
	Currency          Currency
	Type              string
	Status            string
	AvailableOn       time.Time
	Created           time.Time
	ReportingCategory string
	SourceID          string
	Description       string
}
