// Package httpapi implements the inbound HTTP surface of spec.md §6.1: the
// seven REST endpoints through which the out-of-scope application layer
// drives the money core, plus the webhook ingress endpoint the payment
// processor calls back into.
package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/hustlexp/moneycore/internal/adapters/postgres"
	"github.com/hustlexp/moneycore/internal/adapters/rabbitmq"
	"github.com/hustlexp/moneycore/internal/gate"
	"github.com/hustlexp/moneycore/internal/saga"
	"github.com/hustlexp/moneycore/internal/tpee"
	"github.com/hustlexp/moneycore/pkg/idgen"
	"github.com/hustlexp/moneycore/pkg/mlog"
	"github.com/hustlexp/moneycore/pkg/mredis"
	"github.com/hustlexp/moneycore/pkg/nethttp"
)

// Server wires every dependency the handlers need. It holds no business
// logic itself — each handler method is a thin adapter from an HTTP
// request onto saga.Orchestrator/tpee.Engine/gate.Gate calls.
type Server struct {
	Orchestrator    *saga.Orchestrator
	TPEE            *tpee.Engine
	Gate            *gate.Gate
	WebhookProducer *rabbitmq.Producer
	Tasks           *postgres.TaskRepository
	Disputes        *postgres.DisputeRepository
	MoneyLocks      *postgres.MoneyLockRepository
	AdminActions    *postgres.AdminActionRepository
	Idempotency     *IdempotencyCache
	RedisConn       *mredis.Connection
	JWT             nethttp.JWTConfig
	Logger          mlog.Logger
	Tracer          trace.Tracer
	NewID           func() string

	// PlatformFeeBps is the platform's cut in basis points, deducted at
	// RELEASE_PAYOUT/RESOLVE_UPHOLD (spec.md §8 worked scenarios).
	PlatformFeeBps int64
}

func (s *Server) feeFor(priceCents int64) int64 {
	return priceCents * s.PlatformFeeBps / 10000
}

// Router builds the fiber app with every middleware and route mounted.
func (s *Server) Router() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return nethttp.WithError(c, err)
		},
	})

	app.Use(nethttp.WithCorrelationID())
	app.Use(nethttp.WithAccessLog(s.Logger))

	financial := rateLimit(s.RedisConn, "financial", 5)
	admin := rateLimit(s.RedisConn, "admin", 10)

	webhooks := app.Group("/webhooks")
	webhooks.Post("/payments", s.handleWebhookPayments)

	authed := app.Group("", nethttp.WithJWT(s.JWT))

	authed.Post("/tasks/confirm", financial, idempotent("tasks.confirm", s.Idempotency), s.handleTasksConfirm)
	authed.Post("/escrow/create", financial, idempotent("escrow.create", s.Idempotency), s.handleEscrowCreate)
	authed.Post("/tasks/:taskId/approve", financial, idempotent("tasks.approve", s.Idempotency), s.handleTaskApprove)
	authed.Post("/tasks/:taskId/reject", financial, idempotent("tasks.reject", s.Idempotency), s.handleTaskReject)
	authed.Post("/escrow/:taskId/refund", financial, idempotent("escrow.refund", s.Idempotency), s.handleEscrowRefund)
	authed.Post("/admin/disputes/:id/resolve", admin, nethttp.RequireAdmin(), idempotent("admin.disputes.resolve", s.Idempotency), s.handleAdminDisputeResolve)
	authed.Get("/tasks/:taskId/payout-status", s.handlePayoutStatus)

	return app
}

func (s *Server) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}

	return idgen.NewID().String()
}
