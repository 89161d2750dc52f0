package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hustlexp/moneycore/pkg/merr"
)

type lockRow struct {
	ownerID   string
	expiresAt time.Time
}

type fakeStore struct {
	rows map[string]lockRow
	now  time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]lockRow), now: time.Now()}
}

func (f *fakeStore) Acquire(ctx context.Context, resourceID, ownerID string, expiresAt time.Time) (bool, error) {
	row, held := f.rows[resourceID]
	if held && row.ownerID != ownerID && row.expiresAt.After(f.now) {
		return false, nil
	}

	f.rows[resourceID] = lockRow{ownerID: ownerID, expiresAt: expiresAt}

	return true, nil
}

func (f *fakeStore) Release(ctx context.Context, resourceID, ownerID string) error {
	if row, ok := f.rows[resourceID]; ok && row.ownerID == ownerID {
		delete(f.rows, resourceID)
	}

	return nil
}

func (f *fakeStore) Extend(ctx context.Context, resourceID, ownerID string, expiresAt time.Time) (bool, error) {
	row, ok := f.rows[resourceID]
	if !ok || row.ownerID != ownerID {
		return false, nil
	}

	f.rows[resourceID] = lockRow{ownerID: ownerID, expiresAt: expiresAt}

	return true, nil
}

func TestAcquireSucceedsOnFreeResource(t *testing.T) {
	l := &Locker{Store: newFakeStore(), DefaultTTL: time.Minute}

	lock, err := l.Acquire(context.Background(), "task-1", "owner-a")

	assert.NoError(t, err)
	assert.Equal(t, "task-1", lock.ResourceID)
	assert.Equal(t, "owner-a", lock.OwnerID)
}

func TestAcquireFailsWhenHeldByAnotherOwnerAndUnexpired(t *testing.T) {
	store := newFakeStore()
	l := &Locker{Store: store, DefaultTTL: time.Minute}

	_, err := l.Acquire(context.Background(), "task-1", "owner-a")
	assert.NoError(t, err)

	_, err = l.Acquire(context.Background(), "task-1", "owner-b")

	assert.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrLockContested)
}

func TestAcquireStealsExpiredLock(t *testing.T) {
	store := newFakeStore()
	l := &Locker{Store: store, DefaultTTL: time.Minute}

	store.rows["task-1"] = lockRow{ownerID: "owner-a", expiresAt: store.now.Add(-time.Second)}

	lock, err := l.Acquire(context.Background(), "task-1", "owner-b")

	assert.NoError(t, err)
	assert.Equal(t, "owner-b", lock.OwnerID)
}

func TestReleaseIsNoOpForNonHeldLock(t *testing.T) {
	l := &Locker{Store: newFakeStore(), DefaultTTL: time.Minute}

	err := l.Release(context.Background(), "task-1", "owner-a")

	assert.NoError(t, err)
}

func TestAcquireBatchSortsResourceIDs(t *testing.T) {
	store := newFakeStore()
	l := &Locker{Store: store, DefaultTTL: time.Minute}

	locks, err := l.AcquireBatch(context.Background(), []string{"task-3", "task-1", "task-2"}, "owner-a")

	assert.NoError(t, err)
	assert.Len(t, locks, 3)
	assert.Equal(t, "task-1", locks[0].ResourceID)
	assert.Equal(t, "task-2", locks[1].ResourceID)
	assert.Equal(t, "task-3", locks[2].ResourceID)
}

func TestAcquireBatchReleasesOnPartialFailure(t *testing.T) {
	store := newFakeStore()
	store.rows["task-2"] = lockRow{ownerID: "owner-b", expiresAt: store.now.Add(time.Hour)}

	l := &Locker{Store: store, DefaultTTL: time.Minute}

	_, err := l.AcquireBatch(context.Background(), []string{"task-1", "task-2"}, "owner-a")

	assert.Error(t, err)
	_, stillHeld := store.rows["task-1"]
	assert.False(t, stillHeld, "task-1 must have been released after task-2 failed")
}

func TestReleaseBatchReleasesEveryLock(t *testing.T) {
	store := newFakeStore()
	l := &Locker{Store: store, DefaultTTL: time.Minute}

	locks, err := l.AcquireBatch(context.Background(), []string{"task-1", "task-2"}, "owner-a")
	assert.NoError(t, err)

	err = l.ReleaseBatch(context.Background(), locks, "owner-a")

	assert.NoError(t, err)
	assert.Empty(t, store.rows)
}
