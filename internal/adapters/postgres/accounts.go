package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/idgen"
	"github.com/hustlexp/moneycore/pkg/merr"
)

// AccountRepository implements internal/ledger.AccountStore.
type AccountRepository struct {
	Store
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, ownerType domain.OwnerType, ownerID string, accountType domain.AccountType, currency domain.Currency) (*domain.Account, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.account.get_or_create")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	id := idgen.NewID()

	row := db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, owner_type, owner_id, type, currency, balance, baseline_balance, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, '{}'::jsonb, now())
		ON CONFLICT (owner_type, owner_id, type) DO NOTHING
		RETURNING id, owner_type, owner_id, type, currency, balance, baseline_balance, baseline_tx_id, metadata, created_at
	`, id, ownerType, ownerID, accountType, currency)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		row := db.QueryRowContext(ctx, `
			SELECT id, owner_type, owner_id, type, currency, balance, baseline_balance, baseline_tx_id, metadata, created_at
			FROM accounts WHERE owner_type = $1 AND owner_id = $2 AND type = $3
		`, ownerType, ownerID, accountType)

		return scanAccount(row)
	}

	if err != nil {
		return nil, fmt.Errorf("postgres: get or create account: %w", err)
	}

	return acct, nil
}

func (r *AccountRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.account.lock_for_update")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, owner_type, owner_id, type, currency, balance, baseline_balance, baseline_tx_id, metadata, created_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, id)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, merr.Wrap(merr.ErrLedgerUnknownAccount, "LEDGER_UNKNOWN_ACCOUNT", "account %s does not exist", id)
	}

	return acct, err
}

// ApplyDelta enforces monotonic causality: an UPDATE whose WHERE clause
// requires last_tx_id to be NULL or strictly less than newLastTxID (UUIDv7
// is time-ordered, so string comparison is chronological).
func (r *AccountRepository) ApplyDelta(ctx context.Context, id uuid.UUID, delta int64, newLastTxID uuid.UUID) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.account.apply_delta")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE accounts SET balance = balance + $1, last_tx_id = $2
		WHERE id = $3 AND (last_tx_id IS NULL OR last_tx_id < $2)
	`, delta, newLastTxID, id)
	if err != nil {
		return fmt.Errorf("postgres: apply delta: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: apply delta rows affected: %w", err)
	}

	if rows == 0 {
		return merr.Wrap(merr.ErrLedgerMonotonicityViolation, "LEDGER_MONOTONICITY_VIOLATION",
			"transaction %s is not newer than account %s's last committed transaction", newLastTxID, id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		acct         domain.Account
		baselineTxID sql.NullString
		metadataRaw  []byte
	)

	if err := row.Scan(&acct.ID, &acct.OwnerType, &acct.OwnerID, &acct.Type, &acct.Currency,
		&acct.Balance, &acct.BaselineBalance, &baselineTxID, &metadataRaw, &acct.CreatedAt); err != nil {
		return nil, err
	}

	if baselineTxID.Valid {
		acct.BaselineTxID = uuid.MustParse(baselineTxID.String)
	}

	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &acct.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal account metadata: %w", err)
		}
	}

	return &acct, nil
}
