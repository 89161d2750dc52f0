// Package nethttp maps moneycore's business-error taxonomy onto fiber's
// HTTP layer and carries the small set of cross-cutting middlewares
// (correlation ID, access logging) every handler needs.
package nethttp

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/hustlexp/moneycore/pkg/merr"
)

// ProblemBody is the JSON error body returned to API callers.
type ProblemBody struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// WithError maps err to the appropriate HTTP status and problem body.
// Internal callers should never need to inspect status codes; this is
// the single place that translates error class into a wire response.
func WithError(c *fiber.Ctx, err error) error {
	var be *merr.BusinessError
	if errors.As(err, &be) {
		switch be.Class {
		case merr.ClassValidation:
			return BadRequest(c, be)
		case merr.ClassPolicy:
			return UnprocessableEntity(c, be)
		case merr.ClassConcurrency:
			return Conflict(c, be)
		case merr.ClassTransient:
			return ServiceUnavailable(c, be)
		case merr.ClassIntegrity:
			return InternalServerError(c, be)
		}
	}

	if errors.Is(err, merr.ErrNotFound) {
		return NotFound(c, err)
	}

	return InternalServerError(c, err)
}

func BadRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(toProblem(err))
}

func NotFound(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusNotFound).JSON(toProblem(err))
}

func Conflict(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusConflict).JSON(toProblem(err))
}

func UnprocessableEntity(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(toProblem(err))
}

func ServiceUnavailable(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(toProblem(err))
}

func Unauthorized(c *fiber.Ctx, code, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(ProblemBody{Code: code, Title: "unauthorized", Message: message})
}

func Forbidden(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(ProblemBody{Code: "FORBIDDEN", Title: "forbidden", Message: message})
}

func TooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(ProblemBody{Code: "RATE_LIMITED", Title: "rate limited", Message: "too many requests"})
}

func InternalServerError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(toProblem(err))
}

func toProblem(err error) ProblemBody {
	var be *merr.BusinessError
	if errors.As(err, &be) {
		return ProblemBody{Code: be.Code, Title: be.Title, Message: be.Message}
	}

	return ProblemBody{Code: "INTERNAL_ERROR", Title: "internal error", Message: err.Error()}
}
