package routes

import (
	controller "dripline/controllers"
	"dripline/automation"
	"dripline/metrics"
	"dripline/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
)

// Dependencies are what the HTTP surface needs from the rest of the service.
type Dependencies struct {
	Service   *automation.Service
	Worker    controller.PassTrigger
	JWTSecret string
	// RunNowLimit is the number of manual passes a company may trigger per minute.
	RunNowLimit int
	// RateLimitStorage backs the run-now limiter; nil keeps counters in memory.
	RateLimitStorage fiber.Storage
	Logger           logrus.FieldLogger
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	sequenceController := controller.NewSequenceController(deps.Service, deps.Logger)
	enrollmentController := controller.NewEnrollmentController(deps.Service, deps.Logger)

	api := app.Group("/api", middleware.Protected(deps.JWTSecret), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", sequenceController.CreateSequence)
	sequence.Get("/", sequenceController.GetSequences)
	sequence.Get("/:id", sequenceController.GetSequence)
	sequence.Put("/:id", sequenceController.UpdateSequence)
	sequence.Delete("/:id", sequenceController.DeleteSequence)
	sequence.Post("/:id/activate", sequenceController.ActivateSequence)
	sequence.Post("/:id/deactivate", sequenceController.DeactivateSequence)

	// Enrollment routes
	sequence.Post("/:id/enrollments", enrollmentController.EnrollLeads)
	sequence.Get("/:id/enrollments", enrollmentController.GetEnrollments)
	api.Post("/enrollments/:id/unenroll", enrollmentController.Unenroll)

	// Worker routes
	if deps.Worker != nil {
		workerController := controller.NewWorkerController(deps.Worker, deps.Logger)
		work := api.Group("/worker")
		work.Post("/run", middleware.RunNowRateLimiter(deps.RunNowLimit, deps.RateLimitStorage), workerController.RunNow)
		work.Get("/status", workerController.GetStatus)
	}
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	SetupAPIRoutes(app, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
