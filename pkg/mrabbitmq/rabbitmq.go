// Package mrabbitmq wraps a long-lived AMQP connection/channel pair used
// by the webhook ingestion queue's consumer and producer.
package mrabbitmq

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Connection is a hub for a reconnectable AMQP connection/channel pair.
//
// Unlike a request-scoped client, this connection must stay open across
// many webhook deliveries, so GetChannel reconnects on demand rather than
// closing the channel on every call.
type Connection struct {
	URL    string
	Logger mlog.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	Connected bool
}

// Connect dials the broker and opens one channel.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

func (c *Connection) connectLocked() error {
	c.Logger.Info("connecting to rabbitmq...")

	conn, err := amqp.Dial(c.URL)
	if err != nil {
		return fmt.Errorf("mrabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mrabbitmq: open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.Connected = true

	c.Logger.Info("connected to rabbitmq")

	return nil
}

// GetChannel returns the open channel, reconnecting if the connection
// or channel has been closed since the last call.
func (c *Connection) GetChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}

	return c.channel, nil
}

// HealthCheck reports whether the connection is currently usable.
func (c *Connection) HealthCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.conn.IsClosed()
}

// Close tears down the channel and connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		_ = c.channel.Close()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
