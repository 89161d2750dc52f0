// Package saga implements the three-phase (Prepare → Execute → Commit)
// orchestrator of spec.md §4.2: the coordinator that keeps the local
// ledger and the external payment processor in lockstep.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/internal/ledger"
	"github.com/hustlexp/moneycore/internal/locks"
	"github.com/hustlexp/moneycore/internal/msm"
	"github.com/hustlexp/moneycore/internal/provider"
	"github.com/hustlexp/moneycore/pkg/merr"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

// DLQEnqueuer enqueues a PendingAction for the recovery subsystem
// (internal/recovery) to retry.
type DLQEnqueuer interface {
	Enqueue(ctx context.Context, action domain.PendingAction) error
}

// Drain lets graceful shutdown wait for in-flight sagas to finish before
// severing them mid-commit (spec.md §9). *pkg/applauncher.Launcher
// satisfies this by method shape alone, so saga never imports applauncher.
type Drain interface {
	SagaStarted()
	SagaFinished()
}

// Orchestrator wires together every dependency spec.md §4.2 names:
// locks, the kill switch, the ledger, MSM guards, and the provider.
type Orchestrator struct {
	Locker          *locks.Locker
	KillSwitch      *killswitch.Switch
	Ledger          *ledger.Ledger
	MoneyLocks      MoneyLockStore
	ProcessedEvents ProcessedEventStore
	Audit           AuditStore
	AdminActions    AdminActionStore
	Accounts        AccountResolver
	Disputes        msm.DisputeLookup
	Tasks           msm.TaskLookup
	Provider        provider.Processor
	DLQ             DLQEnqueuer
	TxRunner        TxRunner
	Logger          mlog.Logger
	Tracer          trace.Tracer
	NewID           UUIDGen
	LockTTL         time.Duration
	Drain           Drain
}

type prepared struct {
	PriorLock *domain.MoneyStateLock
	NewState  domain.TaskState
	HasTx     bool
	TxID      uuid.UUID
}

// Handle is spec.md §4.1's MSM operation, implemented here because it is
// inseparable from the three-phase protocol: Handle(taskId, eventType,
// ctx) → {state, status}.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	if err := o.KillSwitch.Guard(); err != nil {
		return nil, err
	}

	if o.Drain != nil {
		o.Drain.SagaStarted()
		defer o.Drain.SagaFinished()
	}

	ctx, span := o.Tracer.Start(ctx, "saga.handle")
	defer span.End()

	eventID := req.EventID
	if eventID == "" {
		eventID = o.NewID().String()
	}

	ownerID := eventID

	appLock, err := o.Locker.Acquire(ctx, "task:"+req.TaskID, ownerID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if relErr := o.Locker.Release(ctx, appLock.ResourceID, ownerID); relErr != nil && o.Logger != nil {
			o.Logger.Warn("saga: failed to release app lock", "resource", appLock.ResourceID, "error", relErr)
		}
	}()

	prep, err := o.prepare(ctx, req, eventID)
	if err != nil {
		return nil, err
	}

	if prep == nil {
		// Idempotency check short-circuited: eventId already processed.
		lock, _, lookupErr := o.MoneyLocks.LockForUpdate(ctx, req.TaskID)
		if lookupErr != nil {
			return nil, lookupErr
		}

		return &Result{State: lock.CurrentState, Status: StatusDuplicateIgnored}, nil
	}

	effect, execErr := execute(ctx, req, eventID, prep.PriorLock, o.Provider)

	if pendingErr, ok := execErr.(*pendingRefundError); ok {
		effect = pendingErr.reversal

		if o.DLQ != nil {
			enqueueErr := o.DLQ.Enqueue(ctx, domain.PendingAction{
				ID:            eventID + "-refund-retry",
				TransactionID: prep.TxID.String(),
				Type:          "POST_PAYOUT_REFUND",
				Payload: map[string]any{
					"taskId":          req.TaskID,
					"paymentIntentId": prep.PriorLock.PaymentIntentID,
					"amountCents":     req.TaskPriceCents - req.FeeCents,
				},
				Status: domain.PendingActionPending,
			})

			if enqueueErr != nil && o.Logger != nil {
				o.Logger.Error("saga: failed to enqueue post-payout refund retry", "task", req.TaskID, "error", enqueueErr)
			}
		}
	} else if execErr != nil {
		if o.Logger != nil {
			o.Logger.Warn("saga: execute phase failed, ledger left pending for reaper", "task", req.TaskID, "event", req.Event, "error", execErr)
		}

		return nil, merr.Wrap(merr.ErrProviderFailure, "PROVIDER_FAILURE", "provider call failed for task %s event %s: %v", req.TaskID, req.Event, execErr)
	}

	return o.commit(ctx, req, eventID, prep, effect)
}

func (o *Orchestrator) prepare(ctx context.Context, req Request, eventID string) (*prepared, error) {
	var result *prepared

	err := o.TxRunner.RunInTx(ctx, func(ctx context.Context) error {
		if _, found, err := o.ProcessedEvents.Exists(ctx, eventID); err != nil {
			return err
		} else if found {
			result = nil
			return nil
		}

		lock, existed, err := o.MoneyLocks.LockForUpdate(ctx, req.TaskID)
		if err != nil {
			return fmt.Errorf("saga: lock money state for task %s: %w", req.TaskID, err)
		}

		if !existed {
			if req.Event != domain.EventHoldEscrow {
				return merr.Wrap(merr.ErrInvalidTransition, "INVALID_TRANSITION",
					"task %s has no escrow yet; only HOLD_ESCROW is valid", req.TaskID)
			}

			lock = &domain.MoneyStateLock{TaskID: req.TaskID, CurrentState: domain.StateOpen}
		}

		newState, ok := msm.NextState(lock.CurrentState, req.Event)
		if !ok {
			return merr.Wrap(merr.ErrInvalidTransition, "INVALID_TRANSITION",
				"event %s is not valid from state %s", req.Event, lock.CurrentState)
		}

		evCtx := msm.EventContext{
			EventID:         eventID,
			ActorID:         req.ActorID,
			AdminID:         req.AdminID,
			AmountCents:     req.TaskPriceCents,
			PaymentMethodID: req.PaymentMethodID,
			WorkerID:        req.WorkerID,
		}

		if err := msm.RunGuards(ctx, lock, req.Event, evCtx, o.Disputes, o.Tasks); err != nil {
			return err
		}

		if msm.IsAdminEvent(req.Event) {
			if err := o.AdminActions.Append(ctx, domain.AdminAction{
				AdminID:    req.AdminID,
				Action:     req.Event,
				TargetID:   req.TaskID,
				TaskID:     req.TaskID,
				RawContext: req.RawContext,
				CreatedAt:  time.Now().UTC(),
			}); err != nil {
				return fmt.Errorf("saga: pre-audit admin action: %w", err)
			}
		}

		entries, err := buildEntries(ctx, req, o.Accounts)
		if err != nil {
			return err
		}

		p := &prepared{PriorLock: lock, NewState: newState}

		if entries != nil {
			input := domain.PrepareInput{
				IdempotencyKey: "ledger_" + eventID,
				Type:           string(req.Event),
				Metadata:       req.Metadata,
				Entries:        entries,
			}

			tx, _, err := o.Ledger.PrepareTransaction(ctx, input)
			if err != nil {
				return err
			}

			p.HasTx = true
			p.TxID = tx.ID
		}

		result = p

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (o *Orchestrator) commit(ctx context.Context, req Request, eventID string, prep *prepared, effect domain.ProviderEffect) (*Result, error) {
	var result *Result

	err := o.TxRunner.RunInTx(ctx, func(ctx context.Context) error {
		if prep.HasTx {
			if _, err := o.Ledger.CommitTransaction(ctx, prep.TxID, effect); err != nil {
				return err
			}
		}

		newLock := *prep.PriorLock
		newLock.TaskID = req.TaskID
		newLock.CurrentState = prep.NewState
		newLock.Version = prep.PriorLock.Version + 1
		newLock.LastTransitionAt = time.Now().UTC()
		coalesceProviderIDs(&newLock, effect)

		if ok, err := o.MoneyLocks.Update(ctx, &newLock); err != nil {
			return fmt.Errorf("saga: update money state lock: %w", err)
		} else if !ok {
			return merr.Wrap(merr.ErrLockContested, "LOCK_CONTESTED",
				"task %s money state lock was modified concurrently", req.TaskID)
		}

		parsedEventID, parseErr := uuid.Parse(eventID)
		if parseErr != nil {
			parsedEventID = o.NewID()
		}

		if _, err := o.ProcessedEvents.Insert(ctx, domain.ProcessedEvent{
			EventID:     parsedEventID,
			TaskID:      req.TaskID,
			EventType:   req.Event,
			ProcessedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("saga: insert processed event: %w", err)
		}

		result = &Result{State: prep.NewState, Status: StatusOK}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// The forensic audit log lives in Mongo and cannot join the postgres
	// commit transaction above; the commit barrier (ProcessedEvents.Insert)
	// already defines "the operation happened", so a Mongo outage here is
	// logged, not fatal to an otherwise-successful commit.
	parsedEventID, parseErr := uuid.Parse(eventID)
	if parseErr != nil {
		parsedEventID = o.NewID()
	}

	if err := o.Audit.Append(ctx, domain.MoneyEventAudit{
		EventID:       parsedEventID,
		TaskID:        req.TaskID,
		ActorID:       req.ActorID,
		EventType:     req.Event,
		PreviousState: prep.PriorLock.CurrentState,
		NewState:      prep.NewState,
		ProviderIDs:   effect,
		RawContext:    req.RawContext,
		CreatedAt:     time.Now().UTC(),
	}); err != nil && o.Logger != nil {
		o.Logger.Error("saga: failed to append forensic audit row", "task", req.TaskID, "event", eventID, "error", err)
	}

	return result, nil
}

// coalesceProviderIDs applies COALESCE semantics: a provider ID already
// recorded on the lock is never overwritten with an empty one.
func coalesceProviderIDs(lock *domain.MoneyStateLock, effect domain.ProviderEffect) {
	if effect.PaymentIntentID != "" {
		lock.PaymentIntentID = effect.PaymentIntentID
	}

	if effect.ChargeID != "" {
		lock.ChargeID = effect.ChargeID
	}

	if effect.TransferID != "" {
		lock.TransferID = effect.TransferID
	}

	if effect.RefundID != "" {
		lock.RefundID = effect.RefundID
	}
}
