package gate

import (
	"context"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/saga"
)

// Handler is the subset of saga.Orchestrator the gate dispatches onto,
// narrowed so this package doesn't need the rest of saga's surface.
type Handler interface {
	Handle(ctx context.Context, req saga.Request) (*saga.Result, error)
}

// SagaDispatcher adapts a guard-passed webhook Event onto the saga
// orchestrator as a WEBHOOK_PAYOUT_PAID event, the only MSM transition a
// provider webhook itself ever drives (spec.md §4.1, §6.3).
type SagaDispatcher struct {
	Orchestrator Handler
}

func (d *SagaDispatcher) Dispatch(ctx context.Context, ev Event) error {
	_, err := d.Orchestrator.Handle(ctx, saga.Request{
		EventID: ev.InternalEventID,
		TaskID:  ev.TaskID,
		Event:   domain.EventWebhookPayoutPaid,
		ActorID: ev.OwnerID,
		Metadata: map[string]any{
			"providerEventId": ev.ProviderEventID,
			"providerType":    ev.Type,
		},
	})

	return err
}
