package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hustlexp/moneycore/pkg/mredis"
)

const replayKeyPrefix = "moneycore:webhook:seen:"

// ReplayDedup implements internal/gate.ReplayStore. Keys expire after a
// window long enough to outlast any provider's own retry policy.
type ReplayDedup struct {
	Conn *mredis.Connection
	TTL  time.Duration // default 7 days
}

func (r *ReplayDedup) SeenAndRecord(ctx context.Context, providerEventID string) (bool, error) {
	client, err := r.Conn.GetClient(ctx)
	if err != nil {
		return false, fmt.Errorf("redis: replay dedup client: %w", err)
	}

	ttl := r.TTL
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}

	set, err := client.SetNX(ctx, replayKeyPrefix+providerEventID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: replay dedup setnx: %w", err)
	}

	return !set, nil
}

const headKeyPrefix = "moneycore:webhook:head:"

// HeadTracker implements internal/gate.HeadStore.
type HeadTracker struct {
	Conn *mredis.Connection
}

func (h *HeadTracker) Head(ctx context.Context, ownerID string) (time.Time, bool, error) {
	client, err := h.Conn.GetClient(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: head tracker client: %w", err)
	}

	raw, err := client.Get(ctx, headKeyPrefix+ownerID).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}

	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: head tracker get: %w", err)
	}

	unixNano, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: head tracker parse: %w", err)
	}

	return time.Unix(0, unixNano).UTC(), true, nil
}

func (h *HeadTracker) AdvanceHead(ctx context.Context, ownerID string, ts time.Time) error {
	client, err := h.Conn.GetClient(ctx)
	if err != nil {
		return fmt.Errorf("redis: head tracker client: %w", err)
	}

	if err := client.Set(ctx, headKeyPrefix+ownerID, ts.UnixNano(), 0).Err(); err != nil {
		return fmt.Errorf("redis: head tracker set: %w", err)
	}

	return nil
}
