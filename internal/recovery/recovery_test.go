package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/internal/ledger"
)

// --- killswitch.Mirror fake ---

type fakeMirror struct{}

func (f *fakeMirror) Set(ctx context.Context, tripped bool, reason string) error { return nil }
func (f *fakeMirror) Get(ctx context.Context) (bool, string, error)              { return false, "", nil }

func freshSwitch() *killswitch.Switch {
	return &killswitch.Switch{Mirror: &fakeMirror{}}
}

// --- LedgerTxStore fake ---

type fakeLedgerTxStore struct {
	pending        []PendingTx
	deletedEntries []uuid.UUID
	failed         map[uuid.UUID]string
}

func (f *fakeLedgerTxStore) FindPendingOlderThan(ctx context.Context, age time.Duration) ([]PendingTx, error) {
	return f.pending, nil
}

func (f *fakeLedgerTxStore) DeleteEntries(ctx context.Context, txID uuid.UUID) error {
	f.deletedEntries = append(f.deletedEntries, txID)
	return nil
}

func (f *fakeLedgerTxStore) MarkFailed(ctx context.Context, txID uuid.UUID, reason string) error {
	if f.failed == nil {
		f.failed = make(map[uuid.UUID]string)
	}

	f.failed[txID] = reason

	return nil
}

// --- ProviderOutboundStore fake ---

type fakeOutbound struct {
	found  map[string]domain.ProviderEffect
	lookErr error
}

func (f *fakeOutbound) Find(ctx context.Context, strippedKey string) (bool, domain.ProviderEffect, error) {
	if f.lookErr != nil {
		return false, domain.ProviderEffect{}, f.lookErr
	}

	effect, ok := f.found[strippedKey]

	return ok, effect, nil
}

// --- ledger fakes, reused shape from internal/ledger's own tests ---

type fakeAccounts struct {
	byID map[uuid.UUID]*domain.Account
}

func (f *fakeAccounts) GetOrCreate(ctx context.Context, ownerType domain.OwnerType, ownerID string, accountType domain.AccountType, currency domain.Currency) (*domain.Account, error) {
	return nil, errors.New("not implemented")
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
	byID    map[uuid.UUID]*domain.LedgerTransaction
	entries map[uuid.UUID][]domain.LedgerEntry
}

func (f *fakeTransactions) InsertPending(ctx context.Context, tx *domain.LedgerTransaction, entries []domain.LedgerEntry) (*domain.LedgerTransaction, []domain.LedgerEntry, bool, error) {
	return nil, nil, false, errors.New("not implemented")
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

func TestReaperFailsTransactionWithNoProviderRecord(t *testing.T) {
	txID := uuid.New()

	txs := &fakeLedgerTxStore{pending: []PendingTx{{ID: txID, IdempotencyKey: "ledger_abc"}}}
	outbound := &fakeOutbound{found: map[string]domain.ProviderEffect{}}

	r := &Reaper{
		Ledger:     &ledger.Ledger{Tracer: noop.NewTracerProvider().Tracer("test")},
		Txs:        txs,
		Outbound:   outbound,
		KillSwitch: freshSwitch(),
	}

	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []uuid.UUID{txID}, txs.deletedEntries)
	assert.Equal(t, "crash_pre_execute", txs.failed[txID])
}

func TestReaperReplaysCommitWhenProviderRecordExists(t *testing.T) {
	txID := uuid.New()
	worker := &domain.Account{ID: uuid.New(), Type: domain.AccountLiability}
	task := &domain.Account{ID: uuid.New(), Type: domain.AccountLiability}

	txs := &fakeLedgerTxStore{pending: []PendingTx{{ID: txID, IdempotencyKey: "ledger_abc"}}}
	outbound := &fakeOutbound{found: map[string]domain.ProviderEffect{
		"abc": {TransferID: "tr_1"},
	}}

	accounts := &fakeAccounts{byID: map[uuid.UUID]*domain.Account{worker.ID: worker, task.ID: task}}
	transactions := &fakeTransactions{
		byID: map[uuid.UUID]*domain.LedgerTransaction{
			txID: {ID: txID, Status: domain.TxPending},
		},
		entries: map[uuid.UUID][]domain.LedgerEntry{
			txID: {
				{TransactionID: txID, AccountID: task.ID, Direction: domain.Debit, Amount: 100},
				{TransactionID: txID, AccountID: worker.ID, Direction: domain.Credit, Amount: 100},
			},
		},
	}

	r := &Reaper{
		Ledger: &ledger.Ledger{
			Accounts:     accounts,
			Transactions: transactions,
			Tracer:       noop.NewTracerProvider().Tracer("test"),
		},
		Txs:        txs,
		Outbound:   outbound,
		KillSwitch: freshSwitch(),
	}

	assert.NoError(t, r.Run(context.Background()))
	assert.Empty(t, txs.deletedEntries)
	assert.Equal(t, domain.TxCommitted, transactions.byID[txID].Status)
	assert.Equal(t, int64(-100), task.Balance)
	assert.Equal(t, int64(100), worker.Balance)
}

func TestReaperSkipsWhenKillSwitchTripped(t *testing.T) {
	ks := freshSwitch()
	assert.NoError(t, ks.Trigger(context.Background(), "X"))

	txs := &fakeLedgerTxStore{pending: []PendingTx{{ID: uuid.New()}}}

	r := &Reaper{Ledger: &ledger.Ledger{}, Txs: txs, Outbound: &fakeOutbound{}, KillSwitch: ks}

	assert.NoError(t, r.Run(context.Background()))
	assert.Empty(t, txs.deletedEntries)
}

// --- DLQProcessor ---

type fakeDLQStore struct {
	due         []domain.PendingAction
	retried     map[string]int
	dead        map[string]string
	resolved    map[string]bool
}

func (f *fakeDLQStore) Insert(ctx context.Context, action domain.PendingAction) error { return nil }

func (f *fakeDLQStore) FindDue(ctx context.Context, now time.Time) ([]domain.PendingAction, error) {
	return f.due, nil
}

func (f *fakeDLQStore) MarkRetry(ctx context.Context, id string, nextRetryAt time.Time, retryCount int, errorLog string) error {
	if f.retried == nil {
		f.retried = make(map[string]int)
	}

	f.retried[id] = retryCount

	return nil
}

func (f *fakeDLQStore) MarkDead(ctx context.Context, id string, errorLog string) error {
	if f.dead == nil {
		f.dead = make(map[string]string)
	}

	f.dead[id] = errorLog

	return nil
}

func (f *fakeDLQStore) MarkResolved(ctx context.Context, id string) error {
	if f.resolved == nil {
		f.resolved = make(map[string]bool)
	}

	f.resolved[id] = true

	return nil
}

type fakeHandler struct {
	err error
}

func (f *fakeHandler) Handle(ctx context.Context, action domain.PendingAction) error {
	return f.err
}

func TestDLQProcessorResolvesOnSuccess(t *testing.T) {
	store := &fakeDLQStore{due: []domain.PendingAction{{ID: "a1", Type: "COMMIT_TX"}}}
	p := &DLQProcessor{Store: store, Handlers: map[string]Handler{"COMMIT_TX": &fakeHandler{}}, KillSwitch: freshSwitch()}

	assert.NoError(t, p.Run(context.Background()))
	assert.True(t, store.resolved["a1"])
}

func TestDLQProcessorRetriesWithBackoffUnderCap(t *testing.T) {
	store := &fakeDLQStore{due: []domain.PendingAction{{ID: "a1", Type: "COMMIT_TX", RetryCount: 1}}}
	p := &DLQProcessor{Store: store, Handlers: map[string]Handler{"COMMIT_TX": &fakeHandler{err: errors.New("stripe down")}}, KillSwitch: freshSwitch()}

	assert.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 2, store.retried["a1"])
	assert.Empty(t, store.dead)
}

func TestDLQProcessorTripsKillSwitchOnRetryExhaustion(t *testing.T) {
	ks := freshSwitch()
	store := &fakeDLQStore{due: []domain.PendingAction{{ID: "a1", Type: "COMMIT_TX", RetryCount: maxRetries}}}
	p := &DLQProcessor{Store: store, Handlers: map[string]Handler{"COMMIT_TX": &fakeHandler{err: errors.New("stripe down")}}, KillSwitch: ks}

	assert.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "stripe down", store.dead["a1"])
	assert.True(t, ks.Tripped())
}

func TestDLQProcessorSkipsUnknownActionType(t *testing.T) {
	store := &fakeDLQStore{due: []domain.PendingAction{{ID: "a1", Type: "UNKNOWN"}}}
	p := &DLQProcessor{Store: store, Handlers: map[string]Handler{}, KillSwitch: freshSwitch()}

	assert.NoError(t, p.Run(context.Background()))
	assert.False(t, store.resolved["a1"])
	assert.Empty(t, store.retried)
}

func TestBackoffGrowsExponentiallyByFiveMinutes(t *testing.T) {
	assert.Equal(t, time.Minute, backoff(1))
	assert.Equal(t, 5*time.Minute, backoff(2))
	assert.Equal(t, 25*time.Minute, backoff(3))
}

// --- Backfill ---

type fakeMirrorStore struct {
	orphans []domain.ProviderBalanceMirror
	upserted []domain.ProviderBalanceMirror
	missing  []uuid.UUID
}

func (f *fakeMirrorStore) Upsert(ctx context.Context, rows []domain.ProviderBalanceMirror) error {
	f.upserted = rows
	return nil
}

func (f *fakeMirrorStore) OrphansWithoutLedgerTx(ctx context.Context) ([]domain.ProviderBalanceMirror, error) {
	return f.orphans, nil
}

func (f *fakeMirrorStore) EscrowHoldsMissingProviderCounterpart(ctx context.Context, tolerance time.Duration) ([]uuid.UUID, error) {
	return f.missing, nil
}

type fakeReconstructor struct {
	reconstructOK  bool
	reconstructErr error
	booked         []string
}

func (f *fakeReconstructor) TryReconstruct(ctx context.Context, orphan domain.ProviderBalanceMirror) (bool, error) {
	if f.reconstructErr != nil {
		return false, f.reconstructErr
	}

	return f.reconstructOK, nil
}

func (f *fakeReconstructor) BookUnallocated(ctx context.Context, orphan domain.ProviderBalanceMirror) error {
	f.booked = append(f.booked, orphan.ID)
	return nil
}

func TestBackfillBooksUnallocatedWhenReconstructionFails(t *testing.T) {
	mirror := &fakeMirrorStore{orphans: []domain.ProviderBalanceMirror{{ID: "pb_1"}}}
	recon := &fakeReconstructor{reconstructOK: false}

	b := &Backfill{Mirror: mirror, Reconstructor: recon, KillSwitch: freshSwitch()}

	assert.NoError(t, b.Run(context.Background()))
	assert.Equal(t, []string{"pb_1"}, recon.booked)
}

func TestBackfillSkipsBookingWhenReconstructionSucceeds(t *testing.T) {
	mirror := &fakeMirrorStore{orphans: []domain.ProviderBalanceMirror{{ID: "pb_1"}}}
	recon := &fakeReconstructor{reconstructOK: true}

	b := &Backfill{Mirror: mirror, Reconstructor: recon, KillSwitch: freshSwitch()}

	assert.NoError(t, b.Run(context.Background()))
	assert.Empty(t, recon.booked)
}

func TestBackfillBooksUnallocatedWhenReconstructionErrors(t *testing.T) {
	mirror := &fakeMirrorStore{orphans: []domain.ProviderBalanceMirror{{ID: "pb_1"}}}
	recon := &fakeReconstructor{reconstructErr: errors.New("missing metadata")}

	b := &Backfill{Mirror: mirror, Reconstructor: recon, KillSwitch: freshSwitch()}

	assert.NoError(t, b.Run(context.Background()))
	assert.Equal(t, []string{"pb_1"}, recon.booked)
}

// --- Reconciler ---

type fakeBalanceFetcher struct {
	rows []domain.ProviderBalanceMirror
}

func (f *fakeBalanceFetcher) FetchRecent(ctx context.Context, since time.Time) ([]domain.ProviderBalanceMirror, error) {
	return f.rows, nil
}

func TestReconcilerUpsertsFetchedRowsAndFlagsMissingCounterparts(t *testing.T) {
	missingID := uuid.New()
	mirror := &fakeMirrorStore{missing: []uuid.UUID{missingID}}
	fetcher := &fakeBalanceFetcher{rows: []domain.ProviderBalanceMirror{{ID: "pb_1"}}}

	rc := &Reconciler{Mirror: mirror, Fetcher: fetcher, KillSwitch: freshSwitch()}

	assert.NoError(t, rc.Run(context.Background()))
	assert.Equal(t, fetcher.rows, mirror.upserted)
}

func TestReconcilerSkipsWhenKillSwitchTripped(t *testing.T) {
	ks := freshSwitch()
	assert.NoError(t, ks.Trigger(context.Background(), "X"))

	mirror := &fakeMirrorStore{}
	fetcher := &fakeBalanceFetcher{rows: []domain.ProviderBalanceMirror{{ID: "pb_1"}}}

	rc := &Reconciler{Mirror: mirror, Fetcher: fetcher, KillSwitch: ks}

	assert.NoError(t, rc.Run(context.Background()))
	assert.Nil(t, mirror.upserted)
}

// --- Enqueuer ---

func TestEnqueuerDelegatesToStoreInsert(t *testing.T) {
	store := &fakeDLQStore{}
	e := &Enqueuer{Store: store}

	action := domain.PendingAction{ID: "a1", Type: "POST_PAYOUT_REFUND"}

	assert.NoError(t, e.Enqueue(context.Background(), action))
}
