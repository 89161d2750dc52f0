package ledger

import (
	"fmt"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/merr"
)

// validatePrepareInput enforces the structural guards PrepareTransaction
// must run before writing anything (spec.md §4.3 "Validates (LedgerGuard)").
func validatePrepareInput(input domain.PrepareInput, accounts map[string]*domain.Account) error {
	if len(input.Entries) < 2 {
		return merr.Wrap(merr.ErrLedgerEntryCountTooLow, "LEDGER_ENTRY_COUNT_TOO_LOW",
			"a ledger transaction needs at least two entries, got %d", len(input.Entries))
	}

	var debits, credits int64

	currency := domain.USD

	for _, e := range input.Entries {
		if e.Amount <= 0 {
			return merr.Wrap(merr.ErrLedgerNonPositiveAmount, "LEDGER_NONPOSITIVE_AMOUNT",
				"entry amount must be a positive integer, got %d", e.Amount)
		}

		acct, ok := accounts[e.AccountID.String()]
		if !ok {
			return merr.Wrap(merr.ErrLedgerUnknownAccount, "LEDGER_UNKNOWN_ACCOUNT",
				"account %s does not exist", e.AccountID)
		}

		if acct.Currency != currency {
			return merr.Wrap(merr.ErrLedgerCurrencyMismatch, "LEDGER_CURRENCY_MISMATCH",
				"account %s currency %s does not match %s", e.AccountID, acct.Currency, currency)
		}

		switch e.Direction {
		case domain.Debit:
			debits += e.Amount
		case domain.Credit:
			credits += e.Amount
		default:
			return fmt.Errorf("ledger: unknown entry direction %q", e.Direction)
		}
	}

	if debits != credits {
		return merr.Wrap(merr.ErrLedgerUnbalanced, "LEDGER_UNBALANCED",
			"debits %d do not equal credits %d", debits, credits)
	}

	return nil
}

// entriesDeepEqual implements the "deep idempotency check" of §4.3: an
// idempotency-key replay must match the original entry set exactly, or
// it is a fatal integrity error.
func entriesDeepEqual(a, b []domain.LedgerEntry) bool {
	if len(a) != len(b) {
		return false
	}

	counts := make(map[string]int, len(a))
	for _, e := range a {
		counts[entryKey(e)]++
	}

	for _, e := range b {
		k := entryKey(e)
		if counts[k] == 0 {
			return false
		}

		counts[k]--
	}

	return true
}

func entryKey(e domain.LedgerEntry) string {
	return fmt.Sprintf("%s|%s|%d", e.AccountID, e.Direction, e.Amount)
}
