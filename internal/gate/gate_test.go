package gate

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/pkg/merr"
)

type fakeMirror struct {
	tripped bool
	reason  string
}

func (f *fakeMirror) Set(ctx context.Context, tripped bool, reason string) error {
	f.tripped = tripped
	f.reason = reason
	return nil
}

func (f *fakeMirror) Get(ctx context.Context) (bool, string, error) {
	return f.tripped, f.reason, nil
}

type fakeReplay struct {
	seen map[string]bool
}

func newFakeReplay() *fakeReplay {
	return &fakeReplay{seen: make(map[string]bool)}
}

func (f *fakeReplay) SeenAndRecord(ctx context.Context, providerEventID string) (bool, error) {
	if f.seen[providerEventID] {
		return true, nil
	}

	f.seen[providerEventID] = true

	return false, nil
}

type fakeHeads struct {
	heads map[string]time.Time
}

func newFakeHeads() *fakeHeads {
	return &fakeHeads{heads: make(map[string]time.Time)}
}

func (f *fakeHeads) Head(ctx context.Context, ownerID string) (time.Time, bool, error) {
	h, ok := f.heads[ownerID]
	return h, ok, nil
}

func (f *fakeHeads) AdvanceHead(ctx context.Context, ownerID string, ts time.Time) error {
	f.heads[ownerID] = ts
	return nil
}

type fakeDispatcher struct {
	dispatched []Event
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, ev Event) error {
	f.dispatched = append(f.dispatched, ev)
	return nil
}

const testSecret = "whsec_test"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestGate(dispatcher Dispatcher) (*Gate, *fakeReplay, *fakeHeads) {
	replay := newFakeReplay()
	heads := newFakeHeads()

	g := &Gate{
		Config: Config{
			HMACSecret:   testSecret,
			Livemode:     true,
			AllowedTypes: map[string]bool{"transfer.paid": true},
		},
		KillSwitch: &killswitch.Switch{Mirror: &fakeMirror{}},
		Replay:     replay,
		Heads:      heads,
		Dispatcher: dispatcher,
	}

	return g, replay, heads
}

func validEvent() Event {
	body := []byte(`{"id":"evt_1"}`)

	return Event{
		InternalEventID: "int_1",
		ProviderEventID: "evt_1",
		Type:            "transfer.paid",
		Livemode:        true,
		RawBody:         body,
		Signature:       sign(body),
		TaskID:          "task_1",
		OwnerID:         "owner_1",
		Currency:        "USD",
		AmountCents:     1000,
		ReceivedAt:      time.Now(),
	}
}

func TestIngestDispatchesCleanEvent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, heads := newTestGate(dispatcher)

	err := g.Ingest(context.Background(), validEvent())

	assert.NoError(t, err)
	assert.Len(t, dispatcher.dispatched, 1)

	_, ok := heads.heads["owner_1"]
	assert.True(t, ok, "temporal guard should have advanced the owner head")
}

func TestIngestShortCircuitsOnKillSwitch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	assert.NoError(t, g.KillSwitch.Trigger(context.Background(), "TEST_TRIP"))

	err := g.Ingest(context.Background(), validEvent())

	assert.Error(t, err)
	assert.True(t, IsDropped(err))
	assert.Empty(t, dispatcher.dispatched)
}

func TestIngestRejectsBadSignatureAsNonDropped(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	ev := validEvent()
	ev.Signature = "deadbeef"

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.False(t, IsDropped(err), "signature mismatch must not be dropped silently")
	assert.ErrorIs(t, err, merr.ErrSignatureMismatch)
}

func TestIngestRejectsLivemodeMismatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	ev := validEvent()
	ev.Livemode = false

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.False(t, IsDropped(err))
	assert.ErrorIs(t, err, merr.ErrSignatureMismatch)
}

func TestIngestDropsDuplicateProviderEvent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	ev := validEvent()

	assert.NoError(t, g.Ingest(context.Background(), ev))

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.True(t, IsDropped(err))
	assert.Len(t, dispatcher.dispatched, 1, "second ingest must not re-dispatch")
}

func TestIngestDropsUnknownEventType(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	ev := validEvent()
	ev.ProviderEventID = "evt_2"
	ev.RawBody = []byte(`{"id":"evt_2"}`)
	ev.Signature = sign(ev.RawBody)
	ev.Type = "charge.unknown"

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.True(t, IsDropped(err))
}

func TestIngestDropsNonUSDCurrency(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	ev := validEvent()
	ev.ProviderEventID = "evt_3"
	ev.RawBody = []byte(`{"id":"evt_3"}`)
	ev.Signature = sign(ev.RawBody)
	ev.Currency = "EUR"

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.True(t, IsDropped(err))
}

func TestIngestDropsMissingTaskID(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)

	ev := validEvent()
	ev.ProviderEventID = "evt_4"
	ev.RawBody = []byte(`{"id":"evt_4"}`)
	ev.Signature = sign(ev.RawBody)
	ev.TaskID = ""

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.True(t, IsDropped(err))
}

func TestIngestDropsTemporalReplay(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, heads := newTestGate(dispatcher)

	later := time.Now()
	heads.heads["owner_1"] = later

	ev := validEvent()
	ev.ReceivedAt = later.Add(-time.Hour)

	err := g.Ingest(context.Background(), ev)

	assert.Error(t, err)
	assert.True(t, IsDropped(err))
	assert.Empty(t, dispatcher.dispatched)
}

func TestIngestStillDispatchesLateArrivingEvent(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	g, _, _ := newTestGate(dispatcher)
	g.Config.LateArrivalAfter = time.Minute

	ev := validEvent()
	ev.ReceivedAt = time.Now().Add(-time.Hour)

	err := g.Ingest(context.Background(), ev)

	assert.NoError(t, err, "late arrival is telemetry-only and must not drop the event")
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestVerifySignatureMatchesIngestCheck(t *testing.T) {
	g, _, _ := newTestGate(&fakeDispatcher{})

	body := []byte(`{"id":"evt_sig"}`)

	assert.True(t, g.VerifySignature(body, sign(body)))
	assert.False(t, g.VerifySignature(body, "bogus"))
}
