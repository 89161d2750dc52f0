package nethttp

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/pkg/mlog"
)

const headerCorrelationID = "X-Correlation-Id"

// WithCorrelationID stamps every request/response pair with a correlation ID.
func WithCorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cid := c.Get(headerCorrelationID)
		if cid == "" {
			cid = uuid.NewString()
		}

		c.Set(headerCorrelationID, cid)

		return c.Next()
	}
}

// WithAccessLog logs one line per request in Apache-CLF-flavored form.
func WithAccessLog(logger mlog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		l := logger.WithFields("correlationId", c.Get(headerCorrelationID))
		c.SetUserContext(mlog.ContextWithLogger(c.UserContext(), l))

		err := c.Next()

		l.Infof("%s %s %d %s", c.Method(), c.Path(), c.Response().StatusCode(), time.Since(start))

		return err
	}
}

// AdminClaimKey is the fiber.Locals key under which the parsed admin claim is stored.
const AdminClaimKey = "moneycore.admin"

// JWTConfig configures bearer-token verification.
type JWTConfig struct {
	PublicKey any // *rsa.PublicKey or []byte for HMAC, depending on signing method
}

// WithJWT verifies a bearer token and stashes whether it carries admin=true.
// Per spec.md §6.1, the token's admin claim is the sole admin authority;
// no database role field may override it.
func WithJWT(cfg JWTConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(fiber.HeaderAuthorization)

		parts := strings.SplitN(raw, "Bearer ", 2)
		if len(parts) != 2 || parts[1] == "" {
			return Unauthorized(c, "INVALID_REQUEST", "missing bearer token")
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
			return cfg.PublicKey, nil
		})
		if err != nil || !token.Valid {
			return Unauthorized(c, "INVALID_TOKEN", "token is invalid or expired")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return Unauthorized(c, "INVALID_TOKEN", "unreadable claims")
		}

		isAdmin, _ := claims["admin"].(bool)
		c.Locals(AdminClaimKey, isAdmin)

		sub, _ := claims["sub"].(string)
		c.Locals("moneycore.actorId", sub)

		return c.Next()
	}
}

// RequireAdmin rejects requests whose verified token does not carry admin=true.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isAdmin, _ := c.Locals(AdminClaimKey).(bool)
		if !isAdmin {
			return Forbidden(c, "admin claim required")
		}

		return c.Next()
	}
}

// ActorID returns the subject claim stashed by WithJWT.
func ActorID(c *fiber.Ctx) string {
	id, _ := c.Locals("moneycore.actorId").(string)
	return id
}
