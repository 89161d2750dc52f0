// Package dlqhandlers implements internal/recovery.Handler for the
// PendingAction types the saga orchestrator enqueues onto the DLQ,
// grounded on internal/saga/effects.go's own provider.Processor call
// shape (idempotency-key suffixes, amount arithmetic).
package dlqhandlers

import (
	"context"
	"fmt"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/provider"
	"github.com/hustlexp/moneycore/internal/recovery"
)

// PostPayoutRefund retries the charge refund leg of FORCE_REFUND when the
// transfer reversal already succeeded but the refund itself failed
// (spec.md §9 Open Question #3, saga.Handle's pendingRefundError path).
type PostPayoutRefund struct {
	Processor provider.Processor
}

var _ recovery.Handler = (*PostPayoutRefund)(nil)

func (h *PostPayoutRefund) Handle(ctx context.Context, action domain.PendingAction) error {
	paymentIntentID, _ := action.Payload["paymentIntentId"].(string)
	amountCents, _ := action.Payload["amountCents"].(float64)

	if paymentIntentID == "" {
		return fmt.Errorf("dlqhandlers: post payout refund: action %s missing paymentIntentId", action.ID)
	}

	_, err := h.Processor.Refund(ctx, provider.IdempotencyKey(action.ID, provider.SuffixRefund), paymentIntentID, int64(amountCents))

	return err
}
