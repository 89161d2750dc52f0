package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/ledger"
)

// TransactionRepository implements internal/ledger.TransactionStore.
type TransactionRepository struct {
	Store
}

func (r *TransactionRepository) InsertPending(ctx context.Context, tx *domain.LedgerTransaction, entries []domain.LedgerEntry) (*domain.LedgerTransaction, []domain.LedgerEntry, bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.ledger_tx.insert_pending")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, nil, false, err
	}

	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return nil, nil, false, fmt.Errorf("postgres: marshal transaction metadata: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, type, idempotency_key, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, tx.ID, tx.Type, tx.IdempotencyKey, tx.Status, metadata, tx.CreatedAt)
	if err != nil {
		return nil, nil, false, fmt.Errorf("postgres: insert pending transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, nil, false, err
	}

	if rows == 0 {
		existing, err := r.getByIdempotencyKey(ctx, db, tx.IdempotencyKey)
		if err != nil {
			return nil, nil, false, err
		}

		existingEntries, err := r.GetEntries(ctx, existing.ID)
		if err != nil {
			return nil, nil, false, err
		}

		return existing, existingEntries, false, nil
	}

	for _, e := range entries {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO ledger_entries (transaction_id, account_id, direction, amount)
			VALUES ($1, $2, $3, $4)
		`, e.TransactionID, e.AccountID, e.Direction, e.Amount); err != nil {
			return nil, nil, false, fmt.Errorf("postgres: insert entry: %w", err)
		}
	}

	return tx, entries, true, nil
}

func (r *TransactionRepository) getByIdempotencyKey(ctx context.Context, db execer, key string) (*domain.LedgerTransaction, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, type, idempotency_key, status, metadata, created_at, committed_at
		FROM ledger_transactions WHERE idempotency_key = $1
	`, key)

	return scanTransaction(row)
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerTransaction, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.ledger_tx.get_by_id")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, type, idempotency_key, status, metadata, created_at, committed_at
		FROM ledger_transactions WHERE id = $1
	`, id)

	return scanTransaction(row)
}

func (r *TransactionRepository) GetEntries(ctx context.Context, id uuid.UUID) ([]domain.LedgerEntry, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.ledger_tx.get_entries")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT transaction_id, account_id, direction, amount FROM ledger_entries WHERE transaction_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: query entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry

	for rows.Next() {
		var e domain.LedgerEntry

		if err := rows.Scan(&e.TransactionID, &e.AccountID, &e.Direction, &e.Amount); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (r *TransactionRepository) MarkCommitted(ctx context.Context, id uuid.UUID, effect domain.ProviderEffect) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.ledger_tx.mark_committed")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	effectJSON, err := json.Marshal(effect)
	if err != nil {
		return fmt.Errorf("postgres: marshal provider effect: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		UPDATE ledger_transactions
		SET status = 'committed', committed_at = now(),
		    metadata = metadata || jsonb_build_object('providerEffect', $2::jsonb)
		WHERE id = $1
	`, id, effectJSON)
	if err != nil {
		return fmt.Errorf("postgres: mark committed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return fmt.Errorf("postgres: mark committed: transaction %s not found", id)
	}

	return nil
}

func (r *TransactionRepository) AppendPrepareIntentAudit(ctx context.Context, txID uuid.UUID, input domain.PrepareInput) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.ledger_tx.prepare_intent_audit")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("postgres: marshal prepare input: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO ledger_prepare_audits (transaction_id, input, created_at) VALUES ($1, $2, now())
	`, txID, raw); err != nil {
		return fmt.Errorf("postgres: insert prepare-intent audit: %w", err)
	}

	return nil
}

func scanTransaction(row rowScanner) (*domain.LedgerTransaction, error) {
	var (
		tx          domain.LedgerTransaction
		metadataRaw []byte
		committedAt sql.NullTime
	)

	if err := row.Scan(&tx.ID, &tx.Type, &tx.IdempotencyKey, &tx.Status, &metadataRaw, &tx.CreatedAt, &committedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("postgres: scan transaction: %w", err)
	}

	if committedAt.Valid {
		tx.CommittedAt = &committedAt.Time
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal transaction metadata: %w", err)
		}
	}

	return &tx, nil
}

// SnapshotRepository implements internal/ledger.SnapshotStore.
type SnapshotRepository struct {
	Store
}

func (r *SnapshotRepository) Get(ctx context.Context, accountID uuid.UUID) (*domain.LedgerSnapshot, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.snapshot.get")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT account_id, balance, last_tx_id, snapshot_hash, created_at FROM ledger_snapshots WHERE account_id = $1
	`, accountID)

	var snap domain.LedgerSnapshot
	if err := row.Scan(&snap.AccountID, &snap.Balance, &snap.LastTxID, &snap.SnapshotHash, &snap.CreatedAt); err != nil {
		return nil, err
	}

	if err := ledger.VerifySnapshot(&snap); err != nil {
		return nil, err
	}

	return &snap, nil
}

func (r *SnapshotRepository) Put(ctx context.Context, snap *domain.LedgerSnapshot) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.snapshot.put")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (account_id, balance, last_tx_id, snapshot_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET balance = $2, last_tx_id = $3, snapshot_hash = $4, created_at = $5
	`, snap.AccountID, snap.Balance, snap.LastTxID, snap.SnapshotHash, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put snapshot: %w", err)
	}

	return nil
}
