package postgres

import (
	"context"
	"fmt"
	"time"
)

// AppLockRepository implements internal/locks.Store.
type AppLockRepository struct {
	Store
}

func (r *AppLockRepository) Acquire(ctx context.Context, resourceID, ownerID string, expiresAt time.Time) (bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.app_lock.acquire")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO app_locks (resource_id, owner_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_id) DO UPDATE SET owner_id = $2, expires_at = $3
		WHERE app_locks.expires_at < now() OR app_locks.owner_id = $2
	`, resourceID, ownerID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres: acquire app lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (r *AppLockRepository) Release(ctx context.Context, resourceID, ownerID string) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.app_lock.release")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		DELETE FROM app_locks WHERE resource_id = $1 AND owner_id = $2
	`, resourceID, ownerID); err != nil {
		return fmt.Errorf("postgres: release app lock: %w", err)
	}

	return nil
}

func (r *AppLockRepository) Extend(ctx context.Context, resourceID, ownerID string, expiresAt time.Time) (bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.app_lock.extend")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE app_locks SET expires_at = $3 WHERE resource_id = $1 AND owner_id = $2
	`, resourceID, ownerID, expiresAt)
	if err != nil {
		return false, fmt.Errorf("postgres: extend app lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}
