// Package mmongo wraps the mongo connection backing the MoneyEventAudit
// forensic log (high write volume, no relational joins needed).
package mmongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Connection is a hub for the mongo client.
type Connection struct {
	URL      string
	Database string
	Logger   mlog.Logger

	client    *mongo.Client
	Connected bool
}

// Connect opens and pings the mongo client.
func (c *Connection) Connect(ctx context.Context) error {
	c.Logger.Info("connecting to mongodb...")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URL))
	if err != nil {
		return fmt.Errorf("mmongo: connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mmongo: ping: %w", err)
	}

	c.client = client
	c.Connected = true

	c.Logger.Info("connected to mongodb")

	return nil
}

// GetDatabase returns the audit database handle, connecting lazily.
func (c *Connection) GetDatabase(ctx context.Context) (*mongo.Database, error) {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.client.Database(c.Database), nil
}
