package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/recovery"
)

// LedgerTxRepository implements internal/recovery.LedgerTxStore.
type LedgerTxRepository struct {
	Store
}

func (r *LedgerTxRepository) FindPendingOlderThan(ctx context.Context, age time.Duration) ([]recovery.PendingTx, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.recovery.find_pending_older_than")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, idempotency_key, created_at FROM ledger_transactions
		WHERE status = 'pending' AND created_at < $1
	`, time.Now().UTC().Add(-age))
	if err != nil {
		return nil, fmt.Errorf("postgres: find stuck pending transactions: %w", err)
	}
	defer rows.Close()

	var out []recovery.PendingTx

	for rows.Next() {
		var p recovery.PendingTx

		if err := rows.Scan(&p.ID, &p.IdempotencyKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pending transaction: %w", err)
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

func (r *LedgerTxRepository) DeleteEntries(ctx context.Context, txID uuid.UUID) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.recovery.delete_entries")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM ledger_entries WHERE transaction_id = $1`, txID); err != nil {
		return fmt.Errorf("postgres: delete orphan entries: %w", err)
	}

	return nil
}

func (r *LedgerTxRepository) MarkFailed(ctx context.Context, txID uuid.UUID, reason string) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.recovery.mark_failed")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE ledger_transactions
		SET status = 'failed', metadata = metadata || jsonb_build_object('failureReason', $2::text)
		WHERE id = $1
	`, txID, reason); err != nil {
		return fmt.Errorf("postgres: mark transaction failed: %w", err)
	}

	return nil
}

// ProviderOutboundRepository implements internal/recovery.ProviderOutboundStore
// against a log of outbound provider calls keyed by idempotency key, written
// by the provider client on every request (mirrors how payment processors
// themselves dedupe on the Idempotency-Key header).
type ProviderOutboundRepository struct {
	Store
}

func (r *ProviderOutboundRepository) Find(ctx context.Context, strippedKey string) (bool, domain.ProviderEffect, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.provider_outbound.find")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, domain.ProviderEffect{}, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT payment_intent_id, charge_id, transfer_id, refund_id
		FROM provider_outbound_calls WHERE idempotency_key = $1
	`, strippedKey)

	var (
		effect                                            domain.ProviderEffect
		paymentIntentID, chargeID, transferID, refundID sql.NullString
	)

	if err := row.Scan(&paymentIntentID, &chargeID, &transferID, &refundID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ProviderEffect{}, nil
		}

		return false, domain.ProviderEffect{}, fmt.Errorf("postgres: find provider outbound call: %w", err)
	}

	effect.PaymentIntentID = paymentIntentID.String
	effect.ChargeID = chargeID.String
	effect.TransferID = transferID.String
	effect.RefundID = refundID.String

	return true, effect, nil
}

// DLQRepository implements internal/recovery.DLQStore.
type DLQRepository struct {
	Store
}

func (r *DLQRepository) Insert(ctx context.Context, action domain.PendingAction) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.dlq.insert")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(action.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal dlq payload: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, transaction_id, type, payload, retry_count, status, next_retry_at, error_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, action.ID, action.TransactionID, action.Type, payload, action.RetryCount, action.Status,
		action.NextRetryAt, action.ErrorLog); err != nil {
		return fmt.Errorf("postgres: insert pending action: %w", err)
	}

	return nil
}

func (r *DLQRepository) FindDue(ctx context.Context, now time.Time) ([]domain.PendingAction, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.dlq.find_due")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, transaction_id, type, payload, retry_count, status, next_retry_at, error_log
		FROM pending_actions WHERE status = 'pending' AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: find due dlq actions: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingAction

	for rows.Next() {
		var (
			a           domain.PendingAction
			payload     []byte
			errorLog    sql.NullString
		)

		if err := rows.Scan(&a.ID, &a.TransactionID, &a.Type, &payload, &a.RetryCount, &a.Status,
			&a.NextRetryAt, &errorLog); err != nil {
			return nil, fmt.Errorf("postgres: scan dlq action: %w", err)
		}

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &a.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal dlq payload: %w", err)
			}
		}

		a.ErrorLog = errorLog.String
		out = append(out, a)
	}

	return out, rows.Err()
}

func (r *DLQRepository) MarkRetry(ctx context.Context, id string, nextRetryAt time.Time, retryCount int, errorLog string) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.dlq.mark_retry")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE pending_actions SET next_retry_at = $2, retry_count = $3, error_log = $4 WHERE id = $1
	`, id, nextRetryAt, retryCount, errorLog); err != nil {
		return fmt.Errorf("postgres: mark dlq retry: %w", err)
	}

	return nil
}

func (r *DLQRepository) MarkDead(ctx context.Context, id string, errorLog string) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.dlq.mark_dead")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE pending_actions SET status = 'dead', error_log = $2 WHERE id = $1
	`, id, errorLog); err != nil {
		return fmt.Errorf("postgres: mark dlq dead: %w", err)
	}

	return nil
}

func (r *DLQRepository) MarkResolved(ctx context.Context, id string) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.dlq.mark_resolved")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE pending_actions SET status = 'resolved' WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("postgres: mark dlq resolved: %w", err)
	}

	return nil
}

// MirrorRepository implements internal/recovery.MirrorStore.
type MirrorRepository struct {
	Store
}

func (r *MirrorRepository) Upsert(ctx context.Context, rows []domain.ProviderBalanceMirror) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.mirror.upsert")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO provider_balance_mirrors (id, amount, currency, type, status, available_on, created, reporting_category, source_id, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET status = $5, available_on = $6
		`, row.ID, row.Amount, row.Currency, row.Type, row.Status, row.AvailableOn, row.Created,
			row.ReportingCategory, row.SourceID, row.Description); err != nil {
			return fmt.Errorf("postgres: upsert provider balance mirror: %w", err)
		}
	}

	return nil
}

func (r *MirrorRepository) OrphansWithoutLedgerTx(ctx context.Context) ([]domain.ProviderBalanceMirror, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.mirror.orphans")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.amount, m.currency, m.type, m.status, m.available_on, m.created, m.reporting_category, m.source_id, m.description
		FROM provider_balance_mirrors m
		LEFT JOIN provider_outbound_calls p ON p.charge_id = m.source_id OR p.transfer_id = m.source_id OR p.refund_id = m.source_id
		WHERE p.idempotency_key IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: find orphan mirror rows: %w", err)
	}
	defer rows.Close()

	var out []domain.ProviderBalanceMirror

	for rows.Next() {
		var m domain.ProviderBalanceMirror

		if err := rows.Scan(&m.ID, &m.Amount, &m.Currency, &m.Type, &m.Status, &m.AvailableOn, &m.Created,
			&m.ReportingCategory, &m.SourceID, &m.Description); err != nil {
			return nil, fmt.Errorf("postgres: scan orphan mirror row: %w", err)
		}

		out = append(out, m)
	}

	return out, rows.Err()
}

func (r *MirrorRepository) EscrowHoldsMissingProviderCounterpart(ctx context.Context, tolerance time.Duration) ([]uuid.UUID, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.mirror.escrow_holds_missing_counterpart")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT t.id FROM ledger_transactions t
		JOIN money_state_locks l ON l.task_id = t.metadata->>'taskId'
		WHERE l.current_state = 'held' AND t.type = 'HOLD_ESCROW' AND t.committed_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM provider_balance_mirrors m WHERE m.source_id = l.payment_intent_id
		)
	`, time.Now().UTC().Add(-tolerance))
	if err != nil {
		return nil, fmt.Errorf("postgres: find escrow holds missing provider counterpart: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID

	for rows.Next() {
		var id uuid.UUID

		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan escrow hold id: %w", err)
		}

		out = append(out, id)
	}

	return out, rows.Err()
}
