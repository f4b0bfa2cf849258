package controller

import (
	"context"
	"errors"

	"dripline/automation"
	"dripline/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// PassTrigger runs on-demand passes and reports the sequence worker's state.
type PassTrigger interface {
	RunNow(ctx context.Context) ([]automation.Result, error)
	Status() worker.SequenceStatus
}

type WorkerController struct {
	Worker PassTrigger
	Logger logrus.FieldLogger
}

func NewWorkerController(w PassTrigger, logger logrus.FieldLogger) *WorkerController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WorkerController{
		Worker: w,
		Logger: logger.WithField("controller", "worker"),
	}
}

// RunNow runs one scheduler pass synchronously and returns its results.
func (wc *WorkerController) RunNow(c *fiber.Ctx) error {
	actor := actorFrom(c)
	wc.Logger.WithFields(logrus.Fields{
		"company_id": actor.CompanyID,
		"user_id":    actor.UserID,
	}).Info("Manual sequence pass requested")

	results, err := wc.Worker.RunNow(c.UserContext())
	if errors.Is(err, worker.ErrPassInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if errors.Is(err, worker.ErrWorkerStopped) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return respondError(c, "manual_pass_failed", err)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	return c.JSON(fiber.Map{
		"processed": len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"results":   results,
	})
}

func (wc *WorkerController) GetStatus(c *fiber.Ctx) error {
	return c.JSON(wc.Worker.Status())
}
