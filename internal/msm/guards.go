package msm

import (
	"context"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/merr"
)

// EventContext carries everything a transition needs beyond (taskID, event):
// amounts in cents, counterparty IDs, a payment-method handle, the acting
// actor, an optional admin ID, and an optional externally supplied event ID
// for idempotency (spec.md §4.1 "Operation").
type EventContext struct {
	EventID         string // caller-supplied idempotency key; generated if empty
	ActorID         string
	AdminID         string
	AmountCents     int64
	PaymentMethodID string
	WorkerID        string
}

// DisputeLookup resolves dispute state for a task; implemented by the
// dispute postgres adapter.
type DisputeLookup interface {
	HasNonTerminalDispute(ctx context.Context, taskID string) (bool, error)
	FindActionableDispute(ctx context.Context, taskID string) (*domain.Dispute, error)
}

// TaskLookup answers whether a task currently has a worker assigned.
type TaskLookup interface {
	HasAssignedWorker(ctx context.Context, taskID string) (bool, error)
}

// RunGuards enforces the defense-in-depth guards of spec.md §4.1, beyond
// the transition table itself. Must run inside the prepare phase, after
// the row lock on MoneyStateLock is held.
func RunGuards(ctx context.Context, lock *domain.MoneyStateLock, event domain.EventType, evCtx EventContext, disputes DisputeLookup, tasks TaskLookup) error {
	if TerminalStates(lock.CurrentState) {
		return merr.Wrap(merr.ErrBlockedByGuard, "TERMINAL_STATE",
			"task %s is in terminal state %s; no further events accepted", lock.TaskID, lock.CurrentState)
	}

	if event == domain.EventReleasePayout {
		has, err := disputes.HasNonTerminalDispute(ctx, lock.TaskID)
		if err != nil {
			return err
		}

		if has {
			return merr.Wrap(merr.ErrBlockedByGuard, "DISPUTE_OPEN",
				"task %s has a non-terminal dispute; cannot release payout", lock.TaskID)
		}
	}

	if event == domain.EventResolveRefund || event == domain.EventResolveUphold {
		d, err := disputes.FindActionableDispute(ctx, lock.TaskID)
		if err != nil {
			return err
		}

		if d == nil {
			return merr.Wrap(merr.ErrBlockedByGuard, "NO_ACTIONABLE_DISPUTE",
				"task %s has no dispute in pending/under_review", lock.TaskID)
		}
	}

	if event == domain.EventReleasePayout || event == domain.EventResolveUphold {
		assigned, err := tasks.HasAssignedWorker(ctx, lock.TaskID)
		if err != nil {
			return err
		}

		if !assigned {
			return merr.Wrap(merr.ErrBlockedByGuard, "NO_WORKER_ASSIGNED",
				"task %s has no assigned worker", lock.TaskID)
		}
	}

	if IsAdminEvent(event) {
		if evCtx.AdminID == "" {
			return merr.Wrap(merr.ErrBlockedByGuard, "ADMIN_ID_REQUIRED",
				"event %s requires an adminId in context", event)
		}

		if evCtx.AdminID == evCtx.ActorID {
			return merr.Wrap(merr.ErrBlockedByGuard, "ADMIN_CONFLICT_OF_INTEREST",
				"admin %s may not also be the poster or worker for task %s", evCtx.AdminID, lock.TaskID)
		}
	}

	return nil
}

// TerminalStates reports whether a state accepts no further events
// (spec.md invariant 8); named as a function here so guard call sites
// read naturally next to RunGuards.
func TerminalStates(s domain.TaskState) bool {
	return domain.TerminalStates[s]
}
