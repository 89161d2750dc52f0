// Package provider defines the external payment processor adapter
// boundary (spec.md §6.2). The saga orchestrator's Execute phase talks
// only to this interface; internal/adapters holds the concrete HTTP
// implementation and tests inject a fake.
package provider

import "context"

// ErrorClass distinguishes how a caller should react to a provider error.
type ErrorClass int

const (
	// Retryable covers network failures and 5xx responses: the DLQ
	// processor should retry with backoff.
	Retryable ErrorClass = iota
	// NonRetryable covers validation failures: retrying with the same
	// input will never succeed.
	NonRetryable
	// Terminal covers account-disabled and similar conditions that
	// should trip the kill switch rather than retry.
	Terminal
)

// Error wraps a processor failure with its classification.
type Error struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}

	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Hold is the result of CreateHold.
type Hold struct {
	PaymentIntentID string
	ChargeID        string
}

// Transfer is the result of a Transfer call.
type Transfer struct {
	TransferID string
}

// Reversal is the result of ReverseTransfer.
type Reversal struct {
	ReversalID string
}

// Refund is the result of Refund.
type Refund struct {
	RefundID string
}

// Processor is the payment processor adapter boundary (spec.md §6.2).
// Every method's idempotencyKey must be eventId + "-" + an action suffix
// ("-confirm", "-capture", "-transfer", "-reversal", "-refund", "-cancel"),
// constructed by the caller (internal/saga), not by the adapter.
type Processor interface {
	// CreateHold authorizes with manual capture, leaving funds in
	// "requires capture".
	CreateHold(ctx context.Context, idempotencyKey string, amountCents int64, paymentMethodID string, metadata map[string]string) (*Hold, error)
	// Capture transitions a payment intent to "succeeded".
	Capture(ctx context.Context, idempotencyKey, paymentIntentID string) error
	// Transfer moves funds to destinationAccount against sourceCharge.
	Transfer(ctx context.Context, idempotencyKey string, amountCents int64, destinationAccount, sourceCharge, transferGroup string) (*Transfer, error)
	// Cancel voids a pre-capture payment intent (the refund-before-release path).
	Cancel(ctx context.Context, idempotencyKey, paymentIntentID, reason string) error
	// ReverseTransfer reverses a prior Transfer (the post-payout refund path).
	ReverseTransfer(ctx context.Context, idempotencyKey, transferID string, amountCents int64) (*Reversal, error)
	// Refund refunds a captured charge (the post-payout refund path,
	// following a successful ReverseTransfer).
	Refund(ctx context.Context, idempotencyKey, paymentIntentID string, amountCents int64) (*Refund, error)
}

// ActionSuffix returns the idempotencyKey suffix for each adapter call,
// named to match spec.md §6.2 exactly.
const (
	SuffixConfirm   = "-confirm"
	SuffixCapture   = "-capture"
	SuffixTransfer  = "-transfer"
	SuffixReversal  = "-reversal"
	SuffixRefund    = "-refund"
	SuffixCancel    = "-cancel"
)

// IdempotencyKey builds eventId + actionSuffix.
func IdempotencyKey(eventID, actionSuffix string) string {
	return eventID + actionSuffix
}
