package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hustlexp/moneycore/internal/domain"
)

// MoneyLockRepository implements internal/saga.MoneyLockStore.
type MoneyLockRepository struct {
	Store
}

func (r *MoneyLockRepository) LockForUpdate(ctx context.Context, taskID string) (*domain.MoneyStateLock, bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.money_lock.lock_for_update")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT task_id, current_state, payment_intent_id, charge_id, transfer_id, refund_id, version, last_transition_at
		FROM money_state_locks WHERE task_id = $1 FOR UPDATE
	`, taskID)

	lock, err := scanMoneyLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.MoneyStateLock{TaskID: taskID, CurrentState: domain.StateOpen}, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("postgres: lock money state: %w", err)
	}

	return lock, true, nil
}

func (r *MoneyLockRepository) Update(ctx context.Context, lock *domain.MoneyStateLock) (bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.money_lock.update")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	if lock.Version <= 1 {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO money_state_locks (task_id, current_state, payment_intent_id, charge_id, transfer_id, refund_id, version, last_transition_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, lock.TaskID, lock.CurrentState, lock.PaymentIntentID, lock.ChargeID, lock.TransferID, lock.RefundID, lock.Version, lock.LastTransitionAt); err != nil {
			return false, fmt.Errorf("postgres: insert money state lock: %w", err)
		}

		return true, nil
	}

	result, err := db.ExecContext(ctx, `
		UPDATE money_state_locks
		SET current_state = $1, payment_intent_id = $2, charge_id = $3, transfer_id = $4,
		    refund_id = $5, version = $6, last_transition_at = $7
		WHERE task_id = $8 AND version = $6 - 1
	`, lock.CurrentState, lock.PaymentIntentID, lock.ChargeID, lock.TransferID, lock.RefundID,
		lock.Version, lock.LastTransitionAt, lock.TaskID)
	if err != nil {
		return false, fmt.Errorf("postgres: update money state lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// FindTaskIDByProviderRef looks up the task whose MoneyStateLock carries
// ref as its payment intent, charge, transfer, or refund id. Used by the
// reconciliation Reconstructor (internal/adapters/reconcile) to decide
// whether a provider balance mirror row belongs to a known task.
func (r *MoneyLockRepository) FindTaskIDByProviderRef(ctx context.Context, ref string) (string, bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.money_lock.find_by_provider_ref")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return "", false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT task_id FROM money_state_locks
		WHERE payment_intent_id = $1 OR charge_id = $1 OR transfer_id = $1 OR refund_id = $1
		LIMIT 1
	`, ref)

	var taskID string
	if err := row.Scan(&taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("postgres: find task by provider ref: %w", err)
	}

	return taskID, true, nil
}

func scanMoneyLock(row rowScanner) (*domain.MoneyStateLock, error) {
	var (
		lock                                             domain.MoneyStateLock
		paymentIntentID, chargeID, transferID, refundID sql.NullString
	)

	if err := row.Scan(&lock.TaskID, &lock.CurrentState, &paymentIntentID, &chargeID, &transferID,
		&refundID, &lock.Version, &lock.LastTransitionAt); err != nil {
		return nil, err
	}

	lock.PaymentIntentID = paymentIntentID.String
	lock.ChargeID = chargeID.String
	lock.TransferID = transferID.String
	lock.RefundID = refundID.String

	return &lock, nil
}

// ProcessedEventRepository implements internal/saga.ProcessedEventStore.
type ProcessedEventRepository struct {
	Store
}

func (r *ProcessedEventRepository) Exists(ctx context.Context, eventID string) (*domain.ProcessedEvent, bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.processed_event.exists")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT event_id, task_id, event_type, processed_at FROM processed_events WHERE event_id = $1
	`, eventID)

	var ev domain.ProcessedEvent
	if err := row.Scan(&ev.EventID, &ev.TaskID, &ev.EventType, &ev.ProcessedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("postgres: check processed event: %w", err)
	}

	return &ev, true, nil
}

func (r *ProcessedEventRepository) Insert(ctx context.Context, ev domain.ProcessedEvent) (bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.processed_event.insert")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, task_id, event_type, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.TaskID, ev.EventType, ev.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("postgres: insert processed event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 0, nil
}

// AdminActionRepository implements internal/saga.AdminActionStore.
type AdminActionRepository struct {
	Store
}

func (r *AdminActionRepository) Append(ctx context.Context, a domain.AdminAction) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.admin_action.append")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	rawContext, err := json.Marshal(a.RawContext)
	if err != nil {
		return fmt.Errorf("postgres: marshal raw context: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO admin_actions (admin_id, action, target_id, task_id, raw_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.AdminID, a.Action, a.TargetID, a.TaskID, rawContext, a.CreatedAt); err != nil {
		return fmt.Errorf("postgres: append admin action: %w", err)
	}

	return nil
}
