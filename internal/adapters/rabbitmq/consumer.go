// Package rabbitmq wires the Ordering Gate's webhook ingestion queue (its
// consumer and the producer that publishes onto it), grounded on the teacher's consumer.rabbitmq.go /
// producer.rabbitmq.go connection-handle shape (adjusted for a long-lived
// channel rather than the teacher's per-call reconnect — see DESIGN.md).
package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hustlexp/moneycore/internal/gate"
	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/hustlexp/moneycore/pkg/mrabbitmq"
)

// webhookMessage is the wire shape published onto the ingestion queue by
// internal/httpapi's webhook handler, ahead of any guard running.
type webhookMessage struct {
	ProviderEventID string         `json:"providerEventId"`
	Type            string         `json:"type"`
	Livemode        bool           `json:"livemode"`
	RawBody         []byte         `json:"rawBody"`
	Signature       string         `json:"signature"`
	TaskID          string         `json:"taskId"`
	OwnerID         string         `json:"ownerId"`
	Currency        string         `json:"currency"`
	AmountCents     int64          `json:"amountCents"`
	Metadata        map[string]any `json:"metadata"`
	ReceivedAtUnix  int64          `json:"receivedAtUnix"`
}

// Consumer drains the webhook ingestion queue and feeds each message
// through the Ordering Gate.
type Consumer struct {
	Conn      *mrabbitmq.Connection
	Queue     string
	Gate      *gate.Gate
	Logger    mlog.Logger
	NewEventID func() string
}

// Run consumes until ctx is cancelled. Every delivery is acked regardless
// of gate outcome: a dropped event is meant to return 200-equivalent
// (nothing to retry), and a real internal error is logged for the operator
// to replay from the provider's own dashboard, since nacking here would
// just requeue an event the gate already rejected deterministically.
func (c *Consumer) Run(ctx context.Context) error {
	channel, err := c.Conn.GetChannel()
	if err != nil {
		return err
	}

	deliveries, err := channel.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	defer func() { _ = d.Ack(false) }()

	var msg webhookMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		if c.Logger != nil {
			c.Logger.Error("rabbitmq: malformed webhook message, dropping", "error", err)
		}

		return
	}

	internalEventID := ""
	if c.NewEventID != nil {
		internalEventID = c.NewEventID()
	}

	ev := gate.Event{
		InternalEventID: internalEventID,
		ProviderEventID: msg.ProviderEventID,
		Type:            msg.Type,
		Livemode:        msg.Livemode,
		RawBody:         msg.RawBody,
		Signature:       msg.Signature,
		TaskID:          msg.TaskID,
		OwnerID:         msg.OwnerID,
		Currency:        msg.Currency,
		AmountCents:     msg.AmountCents,
		Metadata:        msg.Metadata,
		ReceivedAt:      time.Unix(0, msg.ReceivedAtUnix).UTC(),
	}

	if err := c.Gate.Ingest(ctx, ev); err != nil && !gate.IsDropped(err) && c.Logger != nil {
		c.Logger.Error("rabbitmq: webhook ingest failed", "provider_event_id", msg.ProviderEventID, "error", err)
	}
}
