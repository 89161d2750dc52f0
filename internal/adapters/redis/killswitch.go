// Package redis adapts the Kill Switch mirror, the Ordering Gate's replay
// and head stores, and TPEE's velocity counter to go-redis, grounded on
// pkg/mredis.Connection.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hustlexp/moneycore/pkg/mredis"
)

const killSwitchKey = "moneycore:killswitch"

// KillSwitchMirror implements internal/killswitch.Mirror.
type KillSwitchMirror struct {
	Conn *mredis.Connection
}

func (m *KillSwitchMirror) Set(ctx context.Context, tripped bool, reason string) error {
	client, err := m.Conn.GetClient(ctx)
	if err != nil {
		return fmt.Errorf("redis: killswitch mirror client: %w", err)
	}

	value := "0"
	if tripped {
		value = "1:" + reason
	}

	if err := client.Set(ctx, killSwitchKey, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: killswitch mirror set: %w", err)
	}

	return nil
}

func (m *KillSwitchMirror) Get(ctx context.Context) (bool, string, error) {
	client, err := m.Conn.GetClient(ctx)
	if err != nil {
		return false, "", fmt.Errorf("redis: killswitch mirror client: %w", err)
	}

	value, err := client.Get(ctx, killSwitchKey).Result()
	if errors.Is(err, goredis.Nil) {
		return false, "", nil
	}

	if err != nil {
		return false, "", fmt.Errorf("redis: killswitch mirror get: %w", err)
	}

	if len(value) >= 2 && value[0] == '1' && value[1] == ':' {
		return true, value[2:], nil
	}

	return false, "", nil
}
