package saga

import "github.com/hustlexp/moneycore/internal/domain"

// Request is the input to Orchestrator.Handle — the typed context
// referenced by spec.md §4.1's Handle signature, plus the amounts/parties
// a money-moving event needs to build ledger entries and provider calls.
type Request struct {
	TaskID          string
	Event           domain.EventType
	EventID         string // optional; generated if empty
	ActorID         string
	AdminID         string
	PosterID        string
	WorkerID        string
	PaymentMethodID string
	TaskPriceCents  int64 // full escrowed amount
	FeeCents        int64 // platform's cut, deducted at release
	Metadata        map[string]any
	RawContext      map[string]any
}

// Status mirrors spec.md §4.1's Handle output: a new state, or
// duplicate_ignored for a replayed event.
type Status string

const (
	StatusOK               Status = "ok"
	StatusDuplicateIgnored Status = "duplicate_ignored"
)

// Result is the output of Orchestrator.Handle.
type Result struct {
	State  domain.TaskState
	Status Status
}
