// Package msm implements the Money State Machine of spec.md §4.1: the
// authoritative per-task finite state machine for escrow.
package msm

import "github.com/hustlexp/moneycore/internal/domain"

// transitionKey is a (from, event) pair.
type transitionKey struct {
	From  domain.TaskState
	Event domain.EventType
}

// transitionTable is the fixed transition table of spec.md §4.1. Any
// other event→state pairing is rejected. This is the single authoritative
// source for both Handle's validation and MoneyStateLock.NextAllowedEvents
// (spec.md §9 Open Question: the table, not a hand-maintained allow-list,
// is authoritative).
var transitionTable = map[transitionKey]domain.TaskState{
	{domain.StateOpen, domain.EventHoldEscrow}:                   domain.StateHeld,
	{domain.StateHeld, domain.EventReleasePayout}:                domain.StateReleased,
	{domain.StateHeld, domain.EventRefundEscrow}:                 domain.StateRefunded,
	{domain.StateHeld, domain.EventDisputeOpen}:                  domain.StatePendingDispute,
	{domain.StatePendingDispute, domain.EventResolveRefund}:      domain.StateRefunded,
	{domain.StatePendingDispute, domain.EventResolveUphold}:      domain.StateUpheld,
	{domain.StateReleased, domain.EventWebhookPayoutPaid}:        domain.StateCompleted,
	{domain.StateReleased, domain.EventForceRefund}:              domain.StateRefunded,
}

// NextState returns the state (from, event) transitions to, or false if
// that pairing is not in the table.
func NextState(from domain.TaskState, event domain.EventType) (domain.TaskState, bool) {
	to, ok := transitionTable[transitionKey{from, event}]
	return to, ok
}

// AllowedEvents derives the set of events valid from a given state,
// computed from transitionTable rather than hand-maintained, so it can
// never drift from the table (closes spec.md §9's first Open Question).
func AllowedEvents(from domain.TaskState) map[domain.EventType]bool {
	allowed := make(map[domain.EventType]bool)

	for k := range transitionTable {
		if k.From == from {
			allowed[k.Event] = true
		}
	}

	return allowed
}

// IsAdminEvent reports whether event requires an adminId in context and
// the conflict-of-interest / pre-audit guards (spec.md §4.1).
func IsAdminEvent(event domain.EventType) bool {
	switch event {
	case domain.EventResolveRefund, domain.EventResolveUphold, domain.EventForceRefund:
		return true
	default:
		return false
	}
}
