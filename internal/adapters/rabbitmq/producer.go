package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hustlexp/moneycore/internal/gate"
	"github.com/hustlexp/moneycore/pkg/mrabbitmq"
)

// Producer publishes inbound webhook deliveries onto the ingestion queue,
// decoupling the HTTP handler (which must ack the provider quickly) from
// gate processing (which may block on the replay/head stores).
type Producer struct {
	Conn     *mrabbitmq.Connection
	Exchange string
	Queue    string
}

func (p *Producer) Publish(ctx context.Context, ev gate.Event) error {
	channel, err := p.Conn.GetChannel()
	if err != nil {
		return fmt.Errorf("rabbitmq: publish webhook: %w", err)
	}

	body, err := json.Marshal(webhookMessage{
		ProviderEventID: ev.ProviderEventID,
		Type:            ev.Type,
		Livemode:        ev.Livemode,
		RawBody:         ev.RawBody,
		Signature:       ev.Signature,
		TaskID:          ev.TaskID,
		OwnerID:         ev.OwnerID,
		Currency:        ev.Currency,
		AmountCents:     ev.AmountCents,
		Metadata:        ev.Metadata,
		ReceivedAtUnix:  ev.ReceivedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal webhook message: %w", err)
	}

	if err := channel.PublishWithContext(ctx, p.Exchange, p.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}

	return nil
}

// CheckHealth reports whether the connection is currently usable.
func (p *Producer) CheckHealth() bool {
	return p.Conn.HealthCheck()
}
