package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hustlexp/moneycore/pkg/mredis"
)

const idempotencyHeader = "Idempotency-Key"

// idempotent wraps a state-changing handler: if the caller's Idempotency-Key
// was already seen for this endpoint, the cached response is replayed
// without re-running the handler (spec.md §6.1). The handler itself must
// call Server.jsonCached to record its outcome — idempotent only reads.
func idempotent(endpoint string, cache *IdempotencyCache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(idempotencyHeader)
		if key == "" {
			return c.Next()
		}

		cached, hit, err := cache.Get(c.UserContext(), endpoint, key)
		if err != nil {
			return c.Next()
		}

		if hit {
			return c.Status(cached.Status).Send(cached.Body)
		}

		c.Locals(idempotencyEndpointKey, endpoint)
		c.Locals(idempotencyKeyLocal, key)

		return c.Next()
	}
}

const (
	idempotencyEndpointKey = "moneycore.idem.endpoint"
	idempotencyKeyLocal    = "moneycore.idem.key"
)

// jsonCached writes a JSON response and, if this request carried an
// Idempotency-Key, caches it for replay on the same (endpoint, key) pair.
func (s *Server) jsonCached(c *fiber.Ctx, status int, body any) error {
	if endpoint, ok := c.Locals(idempotencyEndpointKey).(string); ok {
		key, _ := c.Locals(idempotencyKeyLocal).(string)

		if err := s.Idempotency.Put(c.UserContext(), endpoint, key, status, body); err != nil && s.Logger != nil {
			s.Logger.Warn("httpapi: failed to cache idempotent response", "endpoint", endpoint, "error", err)
		}
	}

	return c.Status(status).JSON(body)
}

const idempotencyKeyPrefix = "moneycore:idem:"

// cachedResponse is the first response recorded for an (endpoint, key) pair.
type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyCache caches the first response for a state-changing endpoint
// keyed by (endpoint, Idempotency-Key), per spec.md §6.1.
type IdempotencyCache struct {
	Conn *mredis.Connection
	TTL  time.Duration // default 24h
}

func (c *IdempotencyCache) Get(ctx context.Context, endpoint, key string) (*cachedResponse, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	client, err := c.Conn.GetClient(ctx)
	if err != nil {
		return nil, false, err
	}

	raw, err := client.Get(ctx, idempotencyKeyPrefix+endpoint+":"+key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	var cached cachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false, err
	}

	return &cached, true, nil
}

func (c *IdempotencyCache) Put(ctx context.Context, endpoint, key string, status int, body any) error {
	if key == "" {
		return nil
	}

	client, err := c.Conn.GetClient(ctx)
	if err != nil {
		return err
	}

	bodyRaw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(cachedResponse{Status: status, Body: bodyRaw})
	if err != nil {
		return err
	}

	ttl := c.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return client.Set(ctx, idempotencyKeyPrefix+endpoint+":"+key, raw, ttl).Err()
}
