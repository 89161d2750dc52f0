package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/ledger"
)

type fakeTaskLookup struct {
	taskID string
	found  bool
	err    error
}

func (f *fakeTaskLookup) FindTaskIDByProviderRef(ctx context.Context, ref string) (string, bool, error) {
	return f.taskID, f.found, f.err
}

type fakeAccounts struct {
	byID  map[uuid.UUID]*domain.Account
	byKey map[string]*domain.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byID: make(map[uuid.UUID]*domain.Account), byKey: make(map[string]*domain.Account)}
}

func (f *fakeAccounts) GetOrCreate(ctx context.Context, ownerType domain.OwnerType, ownerID string, accountType domain.AccountType, currency domain.Currency) (*domain.Account, error) {
	key := string(ownerType) + "|" + ownerID + "|" + string(accountType)

	if acct, ok := f.byKey[key]; ok {
		return acct, nil
	}

	acct := &domain.Account{ID: uuid.New(), OwnerType: ownerType, OwnerID: ownerID, Type: accountType, Currency: currency}
	f.byKey[key] = acct
	f.byID[acct.ID] = acct

	return acct, nil
}

func (f *fakeAccounts) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acct, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}

	return acct, nil
}

func (f *fakeAccounts) ApplyDelta(ctx context.Context, id uuid.UUID, delta int64, newLastTxID uuid.UUID) error {
	acct, ok := f.byID[id]
	if !ok {
		return errors.New("not found")
	}

	acct.Balance += delta
	acct.BaselineTxID = newLastTxID

	return nil
}

type fakeTransactions struct {
	byID      map[uuid.UUID]*domain.LedgerTransaction
	entries   map[uuid.UUID][]domain.LedgerEntry
	byIdemKey map[string]uuid.UUID
}

func newFakeTransactions() *fakeTransactions {
	return &fakeTransactions{
		byID:      make(map[uuid.UUID]*domain.LedgerTransaction),
		entries:   make(map[uuid.UUID][]domain.LedgerEntry),
		byIdemKey: make(map[string]uuid.UUID),
	}
}

func (f *fakeTransactions) InsertPending(ctx context.Context, tx *domain.LedgerTransaction, entries []domain.LedgerEntry) (*domain.LedgerTransaction, []domain.LedgerEntry, bool, error) {
	if existingID, ok := f.byIdemKey[tx.IdempotencyKey]; ok {
		return f.byID[existingID], f.entries[existingID], false, nil
	}

	f.byID[tx.ID] = tx
	f.entries[tx.ID] = entries
	f.byIdemKey[tx.IdempotencyKey] = tx.ID

	return nil, nil, true, nil
}

func (f *fakeTransactions) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerTransaction, error) {
	tx, ok := f.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}

	return tx, nil
}

func (f *fakeTransactions) GetEntries(ctx context.Context, id uuid.UUID) ([]domain.LedgerEntry, error) {
	return f.entries[id], nil
}

func (f *fakeTransactions) MarkCommitted(ctx context.Context, id uuid.UUID, effect domain.ProviderEffect) error {
	tx, ok := f.byID[id]
	if !ok {
		return errors.New("not found")
	}

	tx.Status = domain.TxCommitted

	return nil
}

func (f *fakeTransactions) AppendPrepareIntentAudit(ctx context.Context, txID uuid.UUID, input domain.PrepareInput) error {
	return nil
}

func newTestLedger() (*ledger.Ledger, *fakeAccounts) {
	accounts := newFakeAccounts()

	return &ledger.Ledger{
		Accounts:     accounts,
		Transactions: newFakeTransactions(),
		Tracer:       noop.NewTracerProvider().Tracer("test"),
	}, accounts
}

func TestTryReconstructAttributesOrphanToKnownTask(t *testing.T) {
	led, accounts := newTestLedger()
	tasks := &fakeTaskLookup{taskID: "task-1", found: true}
	r := &Reconstructor{Tasks: tasks, Ledger: led}

	orphan := domain.ProviderBalanceMirror{ID: "pb_1", SourceID: "ch_1", Amount: 1500, Currency: domain.USD}

	ok, err := r.TryReconstruct(context.Background(), orphan)

	assert.NoError(t, err)
	assert.True(t, ok)

	taskEscrow, _ := accounts.GetOrCreate(context.Background(), domain.OwnerTask, "task-1", domain.AccountLiability, domain.USD)
	assert.Equal(t, int64(-1500), taskEscrow.Balance)

	reconciliation, _ := accounts.GetOrCreate(context.Background(), domain.OwnerPlatform, "reconciliation", domain.AccountEquity, domain.USD)
	assert.Equal(t, int64(1500), reconciliation.Balance)
}

func TestTryReconstructReturnsFalseWithoutErrorWhenNoTaskFound(t *testing.T) {
	led, _ := newTestLedger()
	tasks := &fakeTaskLookup{found: false}
	r := &Reconstructor{Tasks: tasks, Ledger: led}

	ok, err := r.TryReconstruct(context.Background(), domain.ProviderBalanceMirror{ID: "pb_1", Currency: domain.USD})

	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestTryReconstructPropagatesTaskLookupError(t *testing.T) {
	led, _ := newTestLedger()
	tasks := &fakeTaskLookup{err: errors.New("db down")}
	r := &Reconstructor{Tasks: tasks, Ledger: led}

	_, err := r.TryReconstruct(context.Background(), domain.ProviderBalanceMirror{ID: "pb_1", Currency: domain.USD})

	assert.Error(t, err)
}

func TestBookUnallocatedBooksToUnallocatedCashAccount(t *testing.T) {
	led, accounts := newTestLedger()
	r := &Reconstructor{Ledger: led}

	orphan := domain.ProviderBalanceMirror{ID: "pb_2", Amount: 2000, Currency: domain.USD}

	assert.NoError(t, r.BookUnallocated(context.Background(), orphan))

	unallocated, _ := accounts.GetOrCreate(context.Background(), domain.OwnerPlatform, "unallocated_cash", domain.AccountAsset, domain.USD)
	assert.Equal(t, int64(2000), unallocated.Balance)
}

func TestBookHandlesNegativeProviderAmountByFlippingDirections(t *testing.T) {
	led, accounts := newTestLedger()
	r := &Reconstructor{Ledger: led}

	orphan := domain.ProviderBalanceMirror{ID: "pb_3", Amount: -800, Currency: domain.USD}

	assert.NoError(t, r.BookUnallocated(context.Background(), orphan))

	unallocated, _ := accounts.GetOrCreate(context.Background(), domain.OwnerPlatform, "unallocated_cash", domain.AccountAsset, domain.USD)
	assert.Equal(t, int64(-800), unallocated.Balance)
}
