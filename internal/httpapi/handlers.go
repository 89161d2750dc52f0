package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/internal/gate"
	"github.com/hustlexp/moneycore/internal/saga"
	"github.com/hustlexp/moneycore/internal/tpee"
	"github.com/hustlexp/moneycore/pkg/merr"
	"github.com/hustlexp/moneycore/pkg/nethttp"
)

type tasksConfirmRequest struct {
	PosterID    string `json:"posterId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	City        string `json:"city"`
	PriceCents  int64  `json:"priceCents"`
}

type tasksConfirmResponse struct {
	Decision            string `json:"decision"`
	TaskID              string `json:"taskId,omitempty"`
	RecommendedPrice    int64  `json:"recommendedPriceCents,omitempty"`
	ReasonCode          string `json:"reasonCode,omitempty"`
	EvaluationID        string `json:"evaluationId"`
	HumanReviewRequired bool   `json:"humanReviewRequired"`
}

// handleTasksConfirm runs a task-creation draft through TPEE and, on
// ACCEPT, creates the Task row with the evaluation stamped onto it
// (spec.md §6.1, §4.6).
func (s *Server) handleTasksConfirm(c *fiber.Ctx) error {
	var req tasksConfirmRequest
	if err := c.BodyParser(&req); err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "MALFORMED_BODY", "could not parse request body"))
	}

	ctx := c.UserContext()

	outcome, err := s.TPEE.Evaluate(ctx, tpee.Proposal{
		PosterID:    req.PosterID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		City:        req.City,
		PriceCents:  req.PriceCents,
	})
	if err != nil {
		return nethttp.WithError(c, err)
	}

	resp := tasksConfirmResponse{
		Decision:            string(outcome.Decision),
		RecommendedPrice:    outcome.RecommendedPrice,
		ReasonCode:          outcome.ReasonCode,
		EvaluationID:        outcome.EvaluationID,
		HumanReviewRequired: outcome.HumanReviewRequired,
	}

	if outcome.Decision != tpee.Accept && !s.TPEE.Policy.ShadowMode {
		status := fiber.StatusUnprocessableEntity
		if outcome.Decision == tpee.Adjust {
			status = fiber.StatusOK
		}

		return s.jsonCached(c, status, resp)
	}

	evalID, _ := uuid.Parse(outcome.EvaluationID)

	task := &domain.Task{
		PosterID:         req.PosterID,
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		City:             req.City,
		PriceCents:       req.PriceCents,
		TPEEEvaluationID: evalID,
		TPEEDecision:     string(outcome.Decision),
		TPEEReasonCode:   outcome.ReasonCode,
		TPEEConfidence:   outcome.Confidence,
		PolicySnapshotID: outcome.PolicyVersion,
	}

	if err := s.Tasks.Create(ctx, task); err != nil {
		return nethttp.WithError(c, err)
	}

	resp.TaskID = task.ID.String()

	return s.jsonCached(c, fiber.StatusCreated, resp)
}

type escrowCreateRequest struct {
	TaskID          string `json:"taskId"`
	PaymentMethodID string `json:"paymentMethodId"`
}

// handleEscrowCreate dispatches HOLD_ESCROW. Only the task's poster may
// call this (spec.md §6.1).
func (s *Server) handleEscrowCreate(c *fiber.Ctx) error {
	var req escrowCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "MALFORMED_BODY", "could not parse request body"))
	}

	ctx := c.UserContext()

	taskUUID, err := uuid.Parse(req.TaskID)
	if err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_TASK_ID", "taskId is not a valid id"))
	}

	task, err := s.Tasks.GetByID(ctx, taskUUID)
	if err != nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	actor := nethttp.ActorID(c)
	if actor != task.PosterID {
		return nethttp.Forbidden(c, "only the task's poster may create escrow")
	}

	result, err := s.Orchestrator.Handle(ctx, s.moneyRequest(task, domain.EventHoldEscrow, actor, req.PaymentMethodID))
	if err != nil {
		return nethttp.WithError(c, err)
	}

	return s.jsonCached(c, fiber.StatusOK, stateResponse(result))
}

// handleTaskApprove dispatches RELEASE_PAYOUT. Poster-only.
func (s *Server) handleTaskApprove(c *fiber.Ctx) error {
	return s.posterEventHandler(c, domain.EventReleasePayout)
}

type taskRejectRequest struct {
	OpenDispute bool `json:"openDispute"`
}

// handleTaskReject either refunds immediately (REFUND_ESCROW) or, if the
// poster is contesting a release, opens a dispute (DISPUTE_OPEN) instead
// (spec.md §6.1).
func (s *Server) handleTaskReject(c *fiber.Ctx) error {
	var req taskRejectRequest
	_ = c.BodyParser(&req) // body is optional; default is a plain refund

	if !req.OpenDispute {
		return s.posterEventHandler(c, domain.EventRefundEscrow)
	}

	ctx := c.UserContext()

	taskUUID, err := uuid.Parse(c.Params("taskId"))
	if err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_TASK_ID", "taskId is not a valid id"))
	}

	task, err := s.Tasks.GetByID(ctx, taskUUID)
	if err != nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	actor := nethttp.ActorID(c)
	if actor != task.PosterID {
		return nethttp.Forbidden(c, "only the task's poster may open a dispute")
	}

	if err := s.Disputes.Create(ctx, &domain.Dispute{
		TaskID:   task.ID.String(),
		Status:   domain.DisputePending,
		OpenedBy: actor,
	}); err != nil {
		return nethttp.WithError(c, err)
	}

	result, err := s.Orchestrator.Handle(ctx, s.moneyRequest(task, domain.EventDisputeOpen, actor, ""))
	if err != nil {
		return nethttp.WithError(c, err)
	}

	return s.jsonCached(c, fiber.StatusOK, stateResponse(result))
}

// handleEscrowRefund dispatches REFUND_ESCROW (poster, while held) or
// FORCE_REFUND (admin, while released) per spec.md §6.1.
func (s *Server) handleEscrowRefund(c *fiber.Ctx) error {
	ctx := c.UserContext()

	taskUUID, err := uuid.Parse(c.Params("taskId"))
	if err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_TASK_ID", "taskId is not a valid id"))
	}

	task, err := s.Tasks.GetByID(ctx, taskUUID)
	if err != nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	actor := nethttp.ActorID(c)
	isAdmin, _ := c.Locals(nethttp.AdminClaimKey).(bool)

	var event domain.EventType

	switch {
	case isAdmin:
		event = domain.EventForceRefund
	case actor == task.PosterID:
		event = domain.EventRefundEscrow
	default:
		return nethttp.Forbidden(c, "only the task's poster or an admin may request a refund")
	}

	req := s.moneyRequest(task, event, actor, "")
	if isAdmin {
		req.AdminID = actor
	}

	result, err := s.Orchestrator.Handle(ctx, req)
	if err != nil {
		return nethttp.WithError(c, err)
	}

	return s.jsonCached(c, fiber.StatusOK, stateResponse(result))
}

type adminDisputeResolveRequest struct {
	Resolution string `json:"resolution"` // "refund" | "uphold"
}

// handleAdminDisputeResolve dispatches RESOLVE_REFUND or RESOLVE_UPHOLD.
// Admin-only (enforced by nethttp.RequireAdmin on the route).
func (s *Server) handleAdminDisputeResolve(c *fiber.Ctx) error {
	var req adminDisputeResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "MALFORMED_BODY", "could not parse request body"))
	}

	ctx := c.UserContext()

	disputeUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_DISPUTE_ID", "dispute id is not a valid id"))
	}

	dispute, err := s.Disputes.GetByID(ctx, disputeUUID)
	if err != nil {
		return nethttp.WithError(c, err)
	}

	if dispute == nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	taskUUID, err := uuid.Parse(dispute.TaskID)
	if err != nil {
		return nethttp.WithError(c, merr.Wrap(merr.ErrIntegrityViolation, "BAD_DISPUTE_TASK_ID", "dispute %s has an unparseable task id", dispute.ID))
	}

	task, err := s.Tasks.GetByID(ctx, taskUUID)
	if err != nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	var event domain.EventType

	switch req.Resolution {
	case "refund":
		event = domain.EventResolveRefund
	case "uphold":
		event = domain.EventResolveUphold
	default:
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_RESOLUTION", "resolution must be \"refund\" or \"uphold\""))
	}

	actor := nethttp.ActorID(c)

	sagaReq := s.moneyRequest(task, event, actor, "")
	sagaReq.AdminID = actor

	result, err := s.Orchestrator.Handle(ctx, sagaReq)
	if err != nil {
		return nethttp.WithError(c, err)
	}

	if err := s.Disputes.MarkResolved(ctx, dispute.ID); err != nil && s.Logger != nil {
		s.Logger.Warn("httpapi: failed to mark dispute resolved", "dispute", dispute.ID, "error", err)
	}

	if err := s.AdminActions.Append(ctx, domain.AdminAction{
		AdminID:  actor,
		Action:   event,
		TargetID: dispute.ID.String(),
		TaskID:   task.ID.String(),
	}); err != nil && s.Logger != nil {
		s.Logger.Warn("httpapi: failed to append admin action", "error", err)
	}

	return s.jsonCached(c, fiber.StatusOK, stateResponse(result))
}

type payoutStatusResponse struct {
	TaskID       string `json:"taskId"`
	State        string `json:"state"`
	Headline     string `json:"headline"`
	Detail       string `json:"detail"`
	EvaluationID string `json:"evaluationId,omitempty"`
	ReasonCode   string `json:"reasonCode,omitempty"`
}

// handlePayoutStatus derives a user-facing explainer from the task's
// current state. Per spec.md §7, the raw eligibility decision and
// evaluation ID are only included for admin callers.
func (s *Server) handlePayoutStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	taskUUID, err := uuid.Parse(c.Params("taskId"))
	if err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_TASK_ID", "taskId is not a valid id"))
	}

	task, err := s.Tasks.GetByID(ctx, taskUUID)
	if err != nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	lock, _, err := s.MoneyLocks.LockForUpdate(ctx, task.ID.String())
	if err != nil {
		return nethttp.WithError(c, err)
	}

	headline, detail := explain(lock.CurrentState)

	resp := payoutStatusResponse{
		TaskID:   task.ID.String(),
		State:    string(lock.CurrentState),
		Headline: headline,
		Detail:   detail,
	}

	if isAdmin, _ := c.Locals(nethttp.AdminClaimKey).(bool); isAdmin {
		resp.EvaluationID = task.TPEEEvaluationID.String()
		resp.ReasonCode = task.TPEEReasonCode
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func explain(state domain.TaskState) (headline, detail string) {
	switch state {
	case domain.StateOpen:
		return "Escrow not yet created", "The poster has not funded escrow for this task."
	case domain.StateHeld:
		return "Funds held in escrow", "The task price is held and will release once the work is approved."
	case domain.StateReleased:
		return "Payout released", "Funds have been transferred to the worker."
	case domain.StatePendingDispute:
		return "Dispute under review", "A dispute is open; payout is paused until an admin resolves it."
	case domain.StateRefunded:
		return "Refunded to poster", "Escrowed funds were returned to the poster."
	case domain.StateUpheld:
		return "Dispute resolved in worker's favor", "The payout was released following dispute resolution."
	case domain.StateCompleted:
		return "Completed", "This task's money lifecycle is complete."
	default:
		return "Unknown", "No escrow state recorded for this task."
	}
}

// webhookPaymentsRequest is the raw shape a payment processor posts.
type webhookPaymentsRequest struct {
	ProviderEventID string         `json:"id"`
	Type            string         `json:"type"`
	Livemode        bool           `json:"livemode"`
	Metadata        map[string]any `json:"metadata"`
	AmountCents     int64          `json:"amountCents"`
	Currency        string         `json:"currency"`
}

// handleWebhookPayments verifies the signature synchronously (400 on
// mismatch) then publishes onto the ingestion queue for the Ordering Gate
// to process asynchronously; a failed publish is 503, and every other
// outcome is 200 per spec.md §6.1 (the provider must never see a
// retryable-looking status for a decision the gate has already made
// deterministically).
func (s *Server) handleWebhookPayments(c *fiber.Ctx) error {
	raw := c.Body()
	signature := c.Get("X-Webhook-Signature")

	if !s.Gate.VerifySignature(raw, signature) {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrSignatureMismatch, "SIGNATURE_MISMATCH", "webhook signature does not match"))
	}

	var body webhookPaymentsRequest
	if err := c.BodyParser(&body); err != nil {
		// malformed JSON under a valid signature: still 200, nothing to retry.
		return c.SendStatus(fiber.StatusOK)
	}

	taskID, _ := body.Metadata["taskId"].(string)
	ownerID, _ := body.Metadata["ownerId"].(string)

	ev := gateEventFrom(s.newID(), raw, signature, body, taskID, ownerID)

	if err := s.WebhookProducer.Publish(c.UserContext(), ev); err != nil {
		if s.Logger != nil {
			s.Logger.Error("httpapi: failed to publish webhook event", "provider_event_id", body.ProviderEventID, "error", err)
		}

		return nethttp.ServiceUnavailable(c, errors.New("webhook ingestion temporarily unavailable"))
	}

	return c.SendStatus(fiber.StatusOK)
}

// gateEventFrom normalizes a raw webhook post into the Ordering Gate's
// wire shape, before any guard has run.
func gateEventFrom(internalEventID string, raw []byte, signature string, body webhookPaymentsRequest, taskID, ownerID string) gate.Event {
	return gate.Event{
		InternalEventID: internalEventID,
		ProviderEventID: body.ProviderEventID,
		Type:            body.Type,
		Livemode:        body.Livemode,
		RawBody:         raw,
		Signature:       signature,
		TaskID:          taskID,
		OwnerID:         ownerID,
		Currency:        body.Currency,
		AmountCents:     body.AmountCents,
		Metadata:        body.Metadata,
		ReceivedAt:      time.Now().UTC(),
	}
}

// moneyRequest builds the common saga.Request shape shared by every
// state-changing endpoint.
func (s *Server) moneyRequest(task *domain.Task, event domain.EventType, actor, paymentMethodID string) saga.Request {
	return saga.Request{
		TaskID:          task.ID.String(),
		Event:           event,
		ActorID:         actor,
		PosterID:        task.PosterID,
		WorkerID:        task.WorkerID,
		PaymentMethodID: paymentMethodID,
		TaskPriceCents:  task.PriceCents,
		FeeCents:        s.feeFor(task.PriceCents),
	}
}

// posterEventHandler is the shared shape of approve/plain-reject: look up
// the task, enforce the poster-only rule, dispatch the event.
func (s *Server) posterEventHandler(c *fiber.Ctx, event domain.EventType) error {
	ctx := c.UserContext()

	taskUUID, err := uuid.Parse(c.Params("taskId"))
	if err != nil {
		return nethttp.BadRequest(c, merr.Wrap(merr.ErrInsufficientInfo, "INVALID_TASK_ID", "taskId is not a valid id"))
	}

	task, err := s.Tasks.GetByID(ctx, taskUUID)
	if err != nil {
		return nethttp.NotFound(c, merr.ErrNotFound)
	}

	actor := nethttp.ActorID(c)
	if actor != task.PosterID {
		return nethttp.Forbidden(c, "only the task's poster may perform this action")
	}

	result, err := s.Orchestrator.Handle(ctx, s.moneyRequest(task, event, actor, ""))
	if err != nil {
		return nethttp.WithError(c, err)
	}

	return s.jsonCached(c, fiber.StatusOK, stateResponse(result))
}

type moneyStateResponse struct {
	State  string `json:"state"`
	Status string `json:"status"`
}

func stateResponse(r *saga.Result) moneyStateResponse {
	return moneyStateResponse{State: string(r.State), Status: string(r.Status)}
}
