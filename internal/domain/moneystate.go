package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskState is a Money State Machine state (spec.md §4.1).
type TaskState string

const (
	StateOpen            TaskState = "open" // implicit, pre-creation
	StateHeld            TaskState = "held"
	StateReleased        TaskState = "released"
	StatePendingDispute   TaskState = "pending_dispute"
	StateRefunded        TaskState = "refunded"
	StateCompleted       TaskState = "completed"
	StateUpheld          TaskState = "upheld"
)

// TerminalStates accept no further events (spec.md invariant 8).
var TerminalStates = map[TaskState]bool{
	StateRefunded:  true,
	StateCompleted: true,
	StateUpheld:    true,
}

// EventType is an MSM event (spec.md §4.1).
type EventType string

const (
	EventHoldEscrow        EventType = "HOLD_ESCROW"
	EventReleasePayout     EventType = "RELEASE_PAYOUT"
	EventRefundEscrow      EventType = "REFUND_ESCROW"
	EventDisputeOpen       EventType = "DISPUTE_OPEN"
	EventResolveRefund     EventType = "RESOLVE_REFUND"
	EventResolveUphold     EventType = "RESOLVE_UPHOLD"
	EventWebhookPayoutPaid EventType = "WEBHOOK_PAYOUT_PAID"
	EventForceRefund       EventType = "FORCE_REFUND"
)

// MoneyStateLock is exactly one per task, created on first HOLD_ESCROW,
// never deleted (spec.md §3.1, §3.3).
type MoneyStateLock struct {
	TaskID            string
	CurrentState      TaskState
	NextAllowedEvents map[EventType]bool
	PaymentIntentID   string
	ChargeID          string
	TransferID        string
	RefundID          string
	Version           int64
	LastTransitionAt  time.Time
}

// ProcessedEvent is the commit barrier: its insertion is the single write
// whose success defines "the operation happened" (spec.md GLOSSARY).
type ProcessedEvent struct {
	EventID     uuid.UUID
	TaskID      string
	EventType   EventType
	ProcessedAt time.Time
}

// MoneyEventAudit is an append-only forensic log row.
type MoneyEventAudit struct {
	EventID       uuid.UUID
	TaskID        string
	ActorID       string
	EventType     EventType
	PreviousState TaskState
	NewState      TaskState
	ProviderIDs   ProviderEffect
	RawContext    map[string]any
	CreatedAt     time.Time
}

// AdminAction is written before any admin-initiated state transition.
type AdminAction struct {
	AdminID    string
	Action     EventType
	TargetID   string
	TaskID     string
	RawContext map[string]any
	CreatedAt  time.Time
}

// DisputeStatus tracks a Dispute row's lifecycle.
type DisputeStatus string

const (
	DisputePending     DisputeStatus = "pending"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeResolved    DisputeStatus = "resolved"
)

// Dispute gates RELEASE_PAYOUT and gives RESOLVE_* events something to act on.
type Dispute struct {
	ID        uuid.UUID
	TaskID    string
	Status    DisputeStatus
	OpenedBy  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
