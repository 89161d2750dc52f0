// Package mredis wraps the redis connection used by the Kill Switch
// distributed mirror, the webhook idempotency-key response cache, and
// multi-instance TPEE velocity counters.
package mredis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hustlexp/moneycore/pkg/mlog"
)

// Connection is a hub for the redis client.
type Connection struct {
	URL    string
	Logger mlog.Logger

	client    *redis.Client
	Connected bool
}

// Connect opens and pings the redis client.
func (c *Connection) Connect(ctx context.Context) error {
	c.Logger.Info("connecting to redis...")

	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return fmt.Errorf("mredis: parse url: %w", err)
	}

	client := redis.NewClient(opts)

	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("mredis: ping: %w", err)
	}

	c.client = client
	c.Connected = true

	c.Logger.Info("connected to redis")

	return nil
}

// GetClient returns the redis client, connecting lazily if needed.
func (c *Connection) GetClient(ctx context.Context) (*redis.Client, error) {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	return c.client, nil
}
