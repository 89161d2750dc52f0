package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hustlexp/moneycore/pkg/mredis"
	"github.com/hustlexp/moneycore/pkg/nethttp"
)

// rateLimit enforces a fixed per-minute cap per actor per route class,
// backed by a redis counter with a one-minute expiry (spec.md §6.1: 5/min
// on financial endpoints, 10/min on admin endpoints).
func rateLimit(conn *mredis.Connection, class string, perMinute int64) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if ctx == nil {
			ctx = context.Background()
		}

		actor := nethttp.ActorID(c)
		if actor == "" {
			actor = c.IP()
		}

		client, err := conn.GetClient(ctx)
		if err != nil {
			return nethttp.ServiceUnavailable(c, errors.New("rate limiter backend unreachable"))
		}

		key := fmt.Sprintf("moneycore:ratelimit:%s:%s:%s", class, actor, time.Now().UTC().Format("200601021504"))

		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			return nethttp.ServiceUnavailable(c, errors.New("rate limiter backend unreachable"))
		}

		if count == 1 {
			client.Expire(ctx, key, time.Minute)
		}

		if count > perMinute {
			return nethttp.TooManyRequests(c)
		}

		return c.Next()
	}
}
