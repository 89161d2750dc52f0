// Package domain holds the entities of spec.md §3: the plain data shapes
// shared by the ledger, MSM, saga, and every adapter. Nothing here talks
// to a database or the network.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OwnerType identifies who an Account belongs to.
type OwnerType string

const (
	OwnerPlatform OwnerType = "platform"
	OwnerUser     OwnerType = "user"
	OwnerTask     OwnerType = "task"
)

// AccountType classifies an Account for the signed-balance rule.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountExpense   AccountType = "expense"
)

// DebitPositive reports whether a debit increases this account type's
// balance (assets/expenses) as opposed to decreasing it
// (liabilities/equity), per spec.md invariant 2.
func (t AccountType) DebitPositive() bool {
	return t == AccountAsset || t == AccountExpense
}

// Currency is fixed to USD for this core; the type exists so call sites
// read as intentional rather than a bare string literal.
type Currency string

const USD Currency = "USD"

// Account is created lazily on first reference by owner+type and is
// exclusively owned by the ledger: its Balance field is only ever
// mutated by a committed LedgerTransaction.
type Account struct {
	ID              uuid.UUID
	OwnerType       OwnerType
	OwnerID         string
	Type            AccountType
	Currency        Currency
	Balance         int64
	BaselineBalance int64
	BaselineTxID    uuid.UUID
	Metadata        map[string]any
	CreatedAt       time.Time
}

// SignedDelta returns the balance delta this account type assigns to a
// debit/credit entry of the given amount, per spec.md invariant 2.
func (a *Account) SignedDelta(direction Direction, amount int64) int64 {
	positive := (direction == Debit) == a.Type.DebitPositive()
	if positive {
		return amount
	}

	return -amount
}
