package dlqhandlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/provider"
)

type fakeProcessor struct {
	refundErr     error
	gotIdemKey    string
	gotIntentID   string
	gotAmountCents int64
}

func (f *fakeProcessor) CreateHold(ctx context.Context, idempotencyKey string, amountCents int64, paymentMethodID string, metadata map[string]string) (*provider.Hold, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProcessor) Capture(ctx context.Context, idempotencyKey, paymentIntentID string) error {
	return errors.New("not implemented")
}

func (f *fakeProcessor) Transfer(ctx context.Context, idempotencyKey string, amountCents int64, destinationAccount, sourceCharge, transferGroup string) (*provider.Transfer, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProcessor) Cancel(ctx context.Context, idempotencyKey, paymentIntentID, reason string) error {
	return errors.New("not implemented")
}

func (f *fakeProcessor) ReverseTransfer(ctx context.Context, idempotencyKey, transferID string, amountCents int64) (*provider.Reversal, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProcessor) Refund(ctx context.Context, idempotencyKey, paymentIntentID string, amountCents int64) (*provider.Refund, error) {
	f.gotIdemKey = idempotencyKey
	f.gotIntentID = paymentIntentID
	f.gotAmountCents = amountCents

	if f.refundErr != nil {
		return nil, f.refundErr
	}

	return &provider.Refund{RefundID: "re_1"}, nil
}

func TestPostPayoutRefundRetriesWithSameAmountAndIntent(t *testing.T) {
	proc := &fakeProcessor{}
	h := &PostPayoutRefund{Processor: proc}

	action := domain.PendingAction{
		ID:   "a1",
		Type: "POST_PAYOUT_REFUND",
		Payload: map[string]any{
			"paymentIntentId": "pi_1",
			"amountCents":     float64(4500),
		},
	}

	assert.NoError(t, h.Handle(context.Background(), action))
	assert.Equal(t, "pi_1", proc.gotIntentID)
	assert.Equal(t, int64(4500), proc.gotAmountCents)
	assert.Equal(t, provider.IdempotencyKey("a1", provider.SuffixRefund), proc.gotIdemKey)
}

func TestPostPayoutRefundFailsWithoutPaymentIntentID(t *testing.T) {
	proc := &fakeProcessor{}
	h := &PostPayoutRefund{Processor: proc}

	action := domain.PendingAction{ID: "a1", Payload: map[string]any{}}

	err := h.Handle(context.Background(), action)
	assert.Error(t, err)
}

func TestPostPayoutRefundPropagatesProcessorError(t *testing.T) {
	proc := &fakeProcessor{refundErr: errors.New("stripe timeout")}
	h := &PostPayoutRefund{Processor: proc}

	action := domain.PendingAction{
		ID:      "a1",
		Payload: map[string]any{"paymentIntentId": "pi_1", "amountCents": float64(1000)},
	}

	err := h.Handle(context.Background(), action)
	assert.Error(t, err)
}
