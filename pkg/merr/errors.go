// Package merr defines the sealed business-error taxonomy for moneycore.
//
// Every sentinel here belongs to exactly one of five classes named in
// spec.md §7: validation, policy, transient, integrity, concurrency. The
// saga and HTTP boundary branch on class, never on a specific sentinel,
// except where a stable reason code must reach the caller (TPEE, guards).
package merr

import (
	"errors"
	"fmt"
)

// Class is the error taxonomy a BusinessError belongs to.
type Class int

const (
	ClassValidation Class = iota
	ClassPolicy
	ClassTransient
	ClassIntegrity
	ClassConcurrency
)

// Sentinel business errors. Wrap with fmt.Errorf("...: %w", Err*) at the
// point of origin so errors.Is/As still matches through added context.
var (
	// MSM / Saga (spec.md §4.1, §4.2)
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrBlockedByGuard     = errors.New("transition blocked by guard")
	ErrLockContested      = errors.New("application lock contested")
	ErrProviderFailure    = errors.New("payment processor call failed")
	ErrIntegrityViolation = errors.New("integrity invariant violated")
	ErrDuplicateIgnored   = errors.New("duplicate event ignored")

	// Ledger (spec.md §4.3)
	ErrLedgerEntryCountTooLow  = errors.New("ledger transaction needs at least two entries")
	ErrLedgerUnbalanced        = errors.New("ledger transaction debits and credits do not balance")
	ErrLedgerNonPositiveAmount = errors.New("ledger entry amount must be a positive integer")
	ErrLedgerCurrencyMismatch  = errors.New("ledger entry currency mismatch")
	ErrLedgerUnknownAccount    = errors.New("ledger account does not exist")
	ErrLedgerDeepIdempotencyMismatch = errors.New("idempotency key reused with different transaction content")
	ErrLedgerMonotonicityViolation   = errors.New("commit would move owner head backwards")
	ErrSnapshotHashMismatch          = errors.New("ledger snapshot hash mismatch")

	// TPEE (spec.md §4.6)
	ErrInsufficientInfo      = errors.New("task proposal missing required fields")
	ErrScamRisk              = errors.New("task proposal matches a scam risk pattern")
	ErrPromptInjectionAttempt = errors.New("task proposal matches a prompt-injection pattern")
	ErrCategoryNotAllowed    = errors.New("task category not allowed in this city")
	ErrPriceBelowFloor       = errors.New("task price below the configured floor")
	ErrTrustTooLow           = errors.New("poster trust score below the hard threshold")
	ErrVelocityExceeded      = errors.New("poster exceeded the task-creation velocity cap")

	// Ordering Gate (spec.md §4.5)
	ErrSignatureMismatch = errors.New("webhook signature verification failed")
	ErrDuplicateEvent    = errors.New("webhook event already processed")
	ErrUnknownEventType  = errors.New("webhook event type not in the allow-list")
	ErrMalformedPayload  = errors.New("webhook payload failed validation")
	ErrTemporalReplay    = errors.New("webhook event older than owner head")
	ErrKillSwitchActive  = errors.New("kill switch is active")

	// Generic
	ErrNotFound = errors.New("entity not found")
)

// BusinessError is the typed, caller-facing form of a sentinel error.
type BusinessError struct {
	Code    string
	Title   string
	Message string
	Class   Class
	Err     error
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error { return e.Err }

// classOf classifies a sentinel into its taxonomy class.
func classOf(err error) Class {
	switch {
	case errors.Is(err, ErrLedgerEntryCountTooLow),
		errors.Is(err, ErrLedgerUnbalanced),
		errors.Is(err, ErrLedgerNonPositiveAmount),
		errors.Is(err, ErrLedgerCurrencyMismatch),
		errors.Is(err, ErrInsufficientInfo),
		errors.Is(err, ErrMalformedPayload):
		return ClassValidation
	case errors.Is(err, ErrBlockedByGuard),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrScamRisk),
		errors.Is(err, ErrPromptInjectionAttempt),
		errors.Is(err, ErrCategoryNotAllowed),
		errors.Is(err, ErrPriceBelowFloor),
		errors.Is(err, ErrTrustTooLow),
		errors.Is(err, ErrVelocityExceeded),
		errors.Is(err, ErrUnknownEventType),
		errors.Is(err, ErrTemporalReplay),
		errors.Is(err, ErrSignatureMismatch):
		return ClassPolicy
	case errors.Is(err, ErrProviderFailure):
		return ClassTransient
	case errors.Is(err, ErrIntegrityViolation),
		errors.Is(err, ErrLedgerDeepIdempotencyMismatch),
		errors.Is(err, ErrLedgerMonotonicityViolation),
		errors.Is(err, ErrSnapshotHashMismatch):
		return ClassIntegrity
	case errors.Is(err, ErrLockContested):
		return ClassConcurrency
	default:
		return ClassValidation
	}
}

// Wrap builds a BusinessError from a sentinel, a stable code, and context.
func Wrap(sentinel error, code, title string, args ...any) *BusinessError {
	msg := title
	if len(args) > 0 {
		msg = fmt.Sprintf(title, args...)
	}

	return &BusinessError{
		Code:    code,
		Title:   title,
		Message: msg,
		Class:   classOf(sentinel),
		Err:     sentinel,
	}
}

// IsIntegrityViolation reports whether err belongs to the integrity class,
// the only class that must trigger the Kill Switch on propagation.
func IsIntegrityViolation(err error) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Class == ClassIntegrity
	}

	return errors.Is(err, ErrIntegrityViolation) ||
		errors.Is(err, ErrLedgerDeepIdempotencyMismatch) ||
		errors.Is(err, ErrLedgerMonotonicityViolation) ||
		errors.Is(err, ErrSnapshotHashMismatch)
}

// IsRetryable reports whether the caller should retry with backoff:
// transient provider errors and lock contention both are.
func IsRetryable(err error) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Class == ClassTransient || be.Class == ClassConcurrency
	}

	return errors.Is(err, ErrProviderFailure) || errors.Is(err, ErrLockContested)
}
