package controller

import (
	"dripline/automation"
	"dripline/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type EnrollmentController struct {
	Service *automation.Service
	Logger  logrus.FieldLogger
}

func NewEnrollmentController(svc *automation.Service, logger logrus.FieldLogger) *EnrollmentController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EnrollmentController{
		Service: svc,
		Logger:  logger.WithField("controller", "enrollment"),
	}
}

type enrollFailure struct {
	LeadID uint   `json:"lead_id"`
	Error  string `json:"error"`
}

// EnrollLeads enrolls one lead (lead_id) or several (lead_ids) into the
// sequence. A single lead reports its error as the response status; a batch
// reports per-lead failures in the body.
func (ec *EnrollmentController) EnrollLeads(c *fiber.Ctx) error {
	sequenceID, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	var input struct {
		LeadID  uint   `json:"lead_id"`
		LeadIDs []uint `json:"lead_ids"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	leadIDs := input.LeadIDs
	if input.LeadID != 0 {
		leadIDs = append([]uint{input.LeadID}, leadIDs...)
	}
	if len(leadIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lead_id or lead_ids is required",
		})
	}

	actor := actorFrom(c)
	ctx := c.UserContext()

	if len(leadIDs) == 1 {
		enrollment, err := ec.Service.Enroll(ctx, actor, sequenceID, leadIDs[0])
		if err != nil {
			return respondError(c, "enrollment_create_failed", err)
		}
		return c.Status(fiber.StatusCreated).JSON(enrollment)
	}

	enrolled := make([]models.SequenceEnrollment, 0, len(leadIDs))
	var failed []enrollFailure
	for _, leadID := range leadIDs {
		enrollment, err := ec.Service.Enroll(ctx, actor, sequenceID, leadID)
		if err != nil {
			if statusFor(err) == fiber.StatusInternalServerError {
				return respondError(c, "enrollment_create_failed", err)
			}
			failed = append(failed, enrollFailure{LeadID: leadID, Error: err.Error()})
			continue
		}
		enrolled = append(enrolled, *enrollment)
	}

	ec.Logger.WithFields(logrus.Fields{
		"sequence_id": sequenceID,
		"enrolled":    len(enrolled),
		"failed":      len(failed),
	}).Info("Bulk enrollment finished")

	return c.JSON(fiber.Map{
		"enrolled": enrolled,
		"failed":   failed,
	})
}

func (ec *EnrollmentController) GetEnrollments(c *fiber.Ctx) error {
	sequenceID, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	status := models.EnrollmentStatus(c.Query("status"))
	switch status {
	case "", models.EnrollmentActive, models.EnrollmentCompleted, models.EnrollmentExited, models.EnrollmentFailed:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "status must be one of active, completed, exited, failed",
		})
	}

	enrollments, err := ec.Service.ListEnrollments(c.UserContext(), actorFrom(c), sequenceID, status)
	if err != nil {
		return respondError(c, "enrollment_list_failed", err)
	}
	return c.JSON(fiber.Map{
		"enrollments": enrollments,
		"total":       len(enrollments),
	})
}

// Unenroll exits an active enrollment. The body's reason defaults to "manual".
func (ec *EnrollmentController) Unenroll(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
		}
	}

	enrollment, err := ec.Service.Unenroll(c.UserContext(), actorFrom(c), id, input.Reason)
	if err != nil {
		return respondError(c, "enrollment_unenroll_failed", err)
	}
	return c.JSON(enrollment)
}
