package recovery

import (
	"context"
	"math"
	"time"

	"github.com/hustlexp/moneycore/internal/killswitch"
	"github.com/hustlexp/moneycore/pkg/mlog"
)

const maxRetries = 5

// backoff returns 5^(retry-1) minutes, per spec.md §4.4.
func backoff(retryCount int) time.Duration {
	minutes := math.Pow(5, float64(retryCount-1))
	return time.Duration(minutes) * time.Minute
}

// DLQProcessor polls due PendingAction rows and dispatches them to typed
// handlers, with exponential backoff and a retry cap that trips the kill
// switch on exhaustion.
type DLQProcessor struct {
	Store      DLQStore
	Handlers   map[string]Handler
	KillSwitch *killswitch.Switch
	Logger     mlog.Logger
	now        func() time.Time
}

func (p *DLQProcessor) clock() time.Time {
	if p.now != nil {
		return p.now()
	}

	return time.Now().UTC()
}

// Run executes one pass over all due rows.
func (p *DLQProcessor) Run(ctx context.Context) error {
	if p.KillSwitch.Tripped() {
		if p.Logger != nil {
			p.Logger.Info("dlq: kill switch active, skipping pass")
		}

		return nil
	}

	due, err := p.Store.FindDue(ctx, p.clock())
	if err != nil {
		return err
	}

	for _, action := range due {
		handler, ok := p.Handlers[action.Type]
		if !ok {
			if p.Logger != nil {
				p.Logger.Error("dlq: no handler registered for action type", "type", action.Type, "action", action.ID)
			}

			continue
		}

		if err := handler.Handle(ctx, action); err != nil {
			retryCount := action.RetryCount + 1

			if retryCount > maxRetries {
				if markErr := p.Store.MarkDead(ctx, action.ID, err.Error()); markErr != nil {
					return markErr
				}

				if triggerErr := p.KillSwitch.Trigger(ctx, "SAGA_RETRY_EXHAUSTION"); triggerErr != nil {
					return triggerErr
				}

				if p.Logger != nil {
					p.Logger.Error("dlq: action exhausted retries, kill switch tripped", "action", action.ID, "type", action.Type)
				}

				continue
			}

			nextRetryAt := p.clock().Add(backoff(retryCount))

			if markErr := p.Store.MarkRetry(ctx, action.ID, nextRetryAt, retryCount, err.Error()); markErr != nil {
				return markErr
			}

			continue
		}

		if err := p.Store.MarkResolved(ctx, action.ID); err != nil {
			return err
		}
	}

	return nil
}
