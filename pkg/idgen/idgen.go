// Package idgen produces the time-ordered, lexicographically sortable
// identifiers spec.md §3 requires for ledger transactions and events.
package idgen

import "github.com/google/uuid"

// NewID returns a UUIDv7: monotonic-enough, sortable by creation time,
// suitable for LedgerTransaction.id and event IDs.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS entropy source is broken; a random
		// v4 id is a safe enough fallback for that unreachable case.
		return uuid.New()
	}

	return id
}
