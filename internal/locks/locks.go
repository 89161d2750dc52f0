// Package locks implements Application Locks (spec.md §4.4): short-lived,
// TTL-bound advisory locks over arbitrary resource IDs, used by the saga
// orchestrator to serialize concurrent operations on the same task.
package locks

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/merr"
)

// Store persists AppLock rows. Acquire must be an atomic
// insert-or-steal-if-expired (INSERT ... ON CONFLICT (resourceId) DO UPDATE
// ... WHERE expiresAt < now()).
type Store interface {
	Acquire(ctx context.Context, resourceID, ownerID string, expiresAt time.Time) (bool, error)
	Release(ctx context.Context, resourceID, ownerID string) error
	Extend(ctx context.Context, resourceID, ownerID string, expiresAt time.Time) (bool, error)
}

// Locker acquires and releases application locks.
type Locker struct {
	Store       Store
	DefaultTTL  time.Duration
}

// Acquire takes a single lock, stealing it if the existing holder's lease
// has expired (spec.md §4.4 TTL-based steal semantics).
func (l *Locker) Acquire(ctx context.Context, resourceID, ownerID string) (*domain.AppLock, error) {
	expiresAt := time.Now().UTC().Add(l.DefaultTTL)

	ok, err := l.Store.Acquire(ctx, resourceID, ownerID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", resourceID, err)
	}

	if !ok {
		return nil, merr.Wrap(merr.ErrLockContested, "LOCK_CONTESTED",
			"resource %s is held by another owner and has not expired", resourceID)
	}

	return &domain.AppLock{ResourceID: resourceID, OwnerID: ownerID, ExpiresAt: expiresAt}, nil
}

// Release drops a lock this owner holds. Releasing a lock this owner does
// not hold is a no-op from the caller's perspective (it may have already
// been stolen after expiry).
func (l *Locker) Release(ctx context.Context, resourceID, ownerID string) error {
	if err := l.Store.Release(ctx, resourceID, ownerID); err != nil {
		return fmt.Errorf("locks: release %s: %w", resourceID, err)
	}

	return nil
}

// AcquireBatch takes multiple locks in sorted resourceID order, so that
// two callers contending for overlapping sets can never deadlock against
// each other. On partial failure, whatever was already acquired is
// released before returning.
func (l *Locker) AcquireBatch(ctx context.Context, resourceIDs []string, ownerID string) ([]*domain.AppLock, error) {
	sorted := append([]string(nil), resourceIDs...)
	sort.Strings(sorted)

	acquired := make([]*domain.AppLock, 0, len(sorted))

	for _, id := range sorted {
		lock, err := l.Acquire(ctx, id, ownerID)
		if err != nil {
			for _, held := range acquired {
				_ = l.Release(ctx, held.ResourceID, ownerID)
			}

			return nil, err
		}

		acquired = append(acquired, lock)
	}

	return acquired, nil
}

// ReleaseBatch releases every lock in locks, best-effort: it attempts all
// of them and returns the first error encountered, if any.
func (l *Locker) ReleaseBatch(ctx context.Context, locks []*domain.AppLock, ownerID string) error {
	var firstErr error

	for _, lock := range locks {
		if err := l.Release(ctx, lock.ResourceID, ownerID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
