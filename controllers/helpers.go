package controller

import (
	"errors"
	"strconv"

	"dripline/automation"
	"dripline/middleware"
	"dripline/utils"

	"github.com/gofiber/fiber/v2"
)

func actorFrom(c *fiber.Ctx) automation.Actor {
	return automation.Actor{
		UserID:    middleware.UserID(c),
		CompanyID: middleware.CompanyID(c),
	}
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid ID")
	}
	return uint(id), nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, automation.ErrSequenceNotFound),
		errors.Is(err, automation.ErrLeadNotFound),
		errors.Is(err, automation.ErrEnrollmentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, automation.ErrAlreadyEnrolled),
		errors.Is(err, automation.ErrSequenceHasActiveEnrollments),
		errors.Is(err, automation.ErrEnrollmentNotActive):
		return fiber.StatusConflict
	case errors.Is(err, automation.ErrInvalidSequence),
		errors.Is(err, automation.ErrSequenceInactive),
		errors.Is(err, automation.ErrLeadNotContactable):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as a JSON error. Unexpected errors are reported and
// their details hidden from the client.
func respondError(c *fiber.Ctx, op string, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		utils.LogError(op, err, map[string]interface{}{
			"company_id": middleware.CompanyID(c),
			"path":       c.Path(),
		})
		return c.Status(status).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
