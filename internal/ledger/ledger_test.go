package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/merr"
)

func testTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

type fakeAccounts struct {
	byID map[uuid.UUID]*domain.Account
	err  error
}

func newFakeAccounts(accts ...*domain.Account) *fakeAccounts {
	m := make(map[uuid.UUID]*domain.Account, len(accts))
	for _, a := range accts {
		m[a.ID] = a
	}

	return &fakeAccounts{byID: m}
}

func (f *fakeAccounts) GetOrCreate(ctx context.Context, ownerType domain.OwnerType, ownerID string, accountType domain.AccountType, currency domain.Currency) (*domain.Account, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeAccounts) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}

	acct, ok := f.byID[id]
	if !ok {
		return nil, merr.Wrap(merr.ErrNotFound, "ACCOUNT_NOT_FOUND", "account %s not found", id)
	}

	return acct, nil
}

func (f *fakeAccounts) ApplyDelta(ctx context.Context, id uuid.UUID, delta int64, newLastTxID uuid.UUID) error {
	acct, ok := f.byID[id]
	if !ok {
		return merr.Wrap(merr.ErrNotFound, "ACCOUNT_NOT_FOUND", "account %s not found", id)
	}

	acct.Balance += delta
	acct.BaselineTxID = newLastTxID

	return nil
}

type fakeTransactions struct {
	byID     map[uuid.UUID]*domain.LedgerTransaction
	entries  map[uuid.UUID][]domain.LedgerEntry
	byIdemKey map[string]uuid.UUID
	auditCalls int
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
		return nil, merr.Wrap(merr.ErrNotFound, "TX_NOT_FOUND", "transaction %s not found", id)
	}

	return tx, nil
}

func (f *fakeTransactions) GetEntries(ctx context.Context, id uuid.UUID) ([]domain.LedgerEntry, error) {
	return f.entries[id], nil
}

func (f *fakeTransactions) MarkCommitted(ctx context.Context, id uuid.UUID, effect domain.ProviderEffect) error {
	tx, ok := f.byID[id]
	if !ok {
		return merr.Wrap(merr.ErrNotFound, "TX_NOT_FOUND", "transaction %s not found", id)
	}

	tx.Status = domain.TxCommitted

	return nil
}

func (f *fakeTransactions) AppendPrepareIntentAudit(ctx context.Context, txID uuid.UUID, input domain.PrepareInput) error {
	f.auditCalls++
	return nil
}

type fakeSnapshots struct {
	byAccount map[uuid.UUID]*domain.LedgerSnapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{byAccount: make(map[uuid.UUID]*domain.LedgerSnapshot)}
}

func (f *fakeSnapshots) Get(ctx context.Context, accountID uuid.UUID) (*domain.LedgerSnapshot, error) {
	snap, ok := f.byAccount[accountID]
	if !ok {
		return nil, merr.Wrap(merr.ErrNotFound, "SNAPSHOT_NOT_FOUND", "snapshot for %s not found", accountID)
	}

	return snap, nil
}

func (f *fakeSnapshots) Put(ctx context.Context, snap *domain.LedgerSnapshot) error {
	f.byAccount[snap.AccountID] = snap
	return nil
}

func newTestAccount(accountType domain.AccountType) *domain.Account {
	return &domain.Account{
		ID:       uuid.New(),
		Type:     accountType,
		Currency: domain.USD,
	}
}

func TestPrepareTransactionRejectsFewerThanTwoEntries(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	l := &Ledger{Accounts: newFakeAccounts(asset), Transactions: newFakeTransactions(), Tracer: testTracer()}

	_, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
		},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, merr.ErrLedgerEntryCountTooLow))
}

func TestPrepareTransactionRejectsUnbalancedEntries(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)
	l := &Ledger{Accounts: newFakeAccounts(asset, liability), Transactions: newFakeTransactions(), Tracer: testTracer()}

	_, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 90},
		},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, merr.ErrLedgerUnbalanced))
}

func TestPrepareTransactionRejectsNonPositiveAmount(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)
	l := &Ledger{Accounts: newFakeAccounts(asset, liability), Transactions: newFakeTransactions(), Tracer: testTracer()}

	_, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 0},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 0},
		},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, merr.ErrLedgerNonPositiveAmount))
}

func TestPrepareTransactionRejectsCurrencyMismatch(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)
	liability.Currency = "EUR"

	l := &Ledger{Accounts: newFakeAccounts(asset, liability), Transactions: newFakeTransactions(), Tracer: testTracer()}

	_, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 100},
		},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, merr.ErrLedgerCurrencyMismatch))
}

func TestPrepareTransactionSucceedsAndAppendsAudit(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)

	txs := newFakeTransactions()
	l := &Ledger{Accounts: newFakeAccounts(asset, liability), Transactions: txs, Tracer: testTracer()}

	tx, entries, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 100},
		},
	})

	assert.NoError(t, err)
	assert.Equal(t, domain.TxPending, tx.Status)
	assert.Len(t, entries, 2)
	assert.Equal(t, 1, txs.auditCalls)
}

func TestPrepareTransactionReplayWithSameContentIsIdempotent(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)

	txs := newFakeTransactions()
	l := &Ledger{Accounts: newFakeAccounts(asset, liability), Transactions: txs, Tracer: testTracer()}

	input := domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 100},
		},
	}

	first, _, err := l.PrepareTransaction(context.Background(), input)
	assert.NoError(t, err)

	second, _, err := l.PrepareTransaction(context.Background(), input)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, txs.auditCalls, "replay must not append a second prepare-intent audit")
}

func TestPrepareTransactionReplayWithDifferentContentIsFatal(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)

	txs := newFakeTransactions()
	l := &Ledger{Accounts: newFakeAccounts(asset, liability), Transactions: txs, Tracer: testTracer()}

	_, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 100},
		},
	})
	assert.NoError(t, err)

	_, _, err = l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 200},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 200},
		},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, merr.ErrLedgerDeepIdempotencyMismatch))
}

func TestCommitTransactionAppliesSignedDeltas(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)

	accounts := newFakeAccounts(asset, liability)
	txs := newFakeTransactions()
	l := &Ledger{Accounts: accounts, Transactions: txs, Tracer: testTracer()}

	tx, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 100},
		},
	})
	assert.NoError(t, err)

	committed, err := l.CommitTransaction(context.Background(), tx.ID, domain.ProviderEffect{TransferID: "tr_1"})

	assert.NoError(t, err)
	assert.Equal(t, domain.TxCommitted, committed.Status)
	assert.Equal(t, int64(100), asset.Balance)
	assert.Equal(t, int64(100), liability.Balance)
}

func TestCommitTransactionIsIdempotentOnAlreadyCommitted(t *testing.T) {
	asset := newTestAccount(domain.AccountAsset)
	liability := newTestAccount(domain.AccountLiability)

	accounts := newFakeAccounts(asset, liability)
	txs := newFakeTransactions()
	l := &Ledger{Accounts: accounts, Transactions: txs, Tracer: testTracer()}

	tx, _, err := l.PrepareTransaction(context.Background(), domain.PrepareInput{
		IdempotencyKey: "k1",
		Type:           "HOLD_ESCROW",
		Entries: []domain.EntryInput{
			{AccountID: asset.ID, Direction: domain.Debit, Amount: 100},
			{AccountID: liability.ID, Direction: domain.Credit, Amount: 100},
		},
	})
	assert.NoError(t, err)

	_, err = l.CommitTransaction(context.Background(), tx.ID, domain.ProviderEffect{})
	assert.NoError(t, err)

	balanceAfterFirstCommit := asset.Balance

	_, err = l.CommitTransaction(context.Background(), tx.ID, domain.ProviderEffect{})
	assert.NoError(t, err)
	assert.Equal(t, balanceAfterFirstCommit, asset.Balance, "second commit must not re-apply deltas")
}

func TestHashSnapshotIsDeterministic(t *testing.T) {
	accountID := uuid.New()
	txID := uuid.New()

	h1 := HashSnapshot(accountID, 500, txID)
	h2 := HashSnapshot(accountID, 500, txID)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashSnapshot(accountID, 501, txID))
}

func TestVerifySnapshotDetectsTamperedBalance(t *testing.T) {
	accountID := uuid.New()
	txID := uuid.New()

	snap := &domain.LedgerSnapshot{AccountID: accountID, Balance: 500, LastTxID: txID}
	snap.SnapshotHash = HashSnapshot(accountID, 500, txID)

	assert.NoError(t, VerifySnapshot(snap))

	snap.Balance = 600

	err := VerifySnapshot(snap)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, merr.ErrSnapshotHashMismatch))
}

func TestSnapshotRoundTripsThroughStore(t *testing.T) {
	snapshots := newFakeSnapshots()
	l := &Ledger{Snapshots: snapshots}

	accountID := uuid.New()
	txID := uuid.New()

	assert.NoError(t, l.Snapshot(context.Background(), accountID, 250, txID))

	stored, err := snapshots.Get(context.Background(), accountID)
	assert.NoError(t, err)
	assert.Equal(t, int64(250), stored.Balance)
	assert.NoError(t, VerifySnapshot(stored))
}
