package controller

import (
	"dripline/automation"
	"dripline/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type SequenceController struct {
	Service *automation.Service
	Logger  logrus.FieldLogger
}

func NewSequenceController(svc *automation.Service, logger logrus.FieldLogger) *SequenceController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SequenceController{
		Service: svc,
		Logger:  logger.WithField("controller", "sequence"),
	}
}

type createSequenceInput struct {
	Name            string                `json:"name"`
	Description     string                `json:"description"`
	Steps           []models.SequenceStep `json:"steps"`
	ExitOnReply     *bool                 `json:"exit_on_reply"`
	ExitOnGoal      *string               `json:"exit_on_goal"`
	SendWindow      *models.SendWindow    `json:"send_time_window"`
	MaxEmailsPerDay *int                  `json:"max_emails_per_day"`
}

// CreateSequence stores a new sequence. It starts inactive.
func (sc *SequenceController) CreateSequence(c *fiber.Ctx) error {
	var input createSequenceInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	seq := models.Sequence{
		Name:            input.Name,
		Description:     input.Description,
		Steps:           input.Steps,
		ExitOnReply:     models.DefaultExitOnReply,
		ExitOnGoal:      input.ExitOnGoal,
		SendWindow:      input.SendWindow,
		MaxEmailsPerDay: models.DefaultMaxEmailsPerDay,
	}
	if input.ExitOnReply != nil {
		seq.ExitOnReply = *input.ExitOnReply
	}
	if input.MaxEmailsPerDay != nil {
		seq.MaxEmailsPerDay = *input.MaxEmailsPerDay
	}
	if seq.ExitOnGoal != nil && *seq.ExitOnGoal == "" {
		seq.ExitOnGoal = nil
	}

	if err := sc.Service.CreateSequence(c.UserContext(), actorFrom(c), &seq); err != nil {
		return respondError(c, "sequence_create_failed", err)
	}

	return c.Status(fiber.StatusCreated).JSON(seq)
}

func (sc *SequenceController) GetSequences(c *fiber.Ctx) error {
	sequences, err := sc.Service.ListSequences(c.UserContext(), actorFrom(c))
	if err != nil {
		return respondError(c, "sequence_list_failed", err)
	}
	return c.JSON(fiber.Map{
		"sequences": sequences,
		"total":     len(sequences),
	})
}

func (sc *SequenceController) GetSequence(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	seq, err := sc.Service.GetSequence(c.UserContext(), actorFrom(c), id)
	if err != nil {
		return respondError(c, "sequence_get_failed", err)
	}
	return c.JSON(seq)
}

func (sc *SequenceController) UpdateSequence(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	var input automation.SequenceUpdate
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
	}

	seq, err := sc.Service.UpdateSequence(c.UserContext(), actorFrom(c), id, input)
	if err != nil {
		return respondError(c, "sequence_update_failed", err)
	}
	return c.JSON(seq)
}

func (sc *SequenceController) DeleteSequence(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	if err := sc.Service.DeleteSequence(c.UserContext(), actorFrom(c), id); err != nil {
		return respondError(c, "sequence_delete_failed", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (sc *SequenceController) ActivateSequence(c *fiber.Ctx) error {
	return sc.setActive(c, true)
}

func (sc *SequenceController) DeactivateSequence(c *fiber.Ctx) error {
	return sc.setActive(c, false)
}

func (sc *SequenceController) setActive(c *fiber.Ctx, active bool) error {
	id, err := paramID(c)
	if err != nil {
		return respondError(c, "", err)
	}

	seq, err := sc.Service.SetSequenceActive(c.UserContext(), actorFrom(c), id, active)
	if err != nil {
		return respondError(c, "sequence_activation_failed", err)
	}
	return c.JSON(seq)
}
