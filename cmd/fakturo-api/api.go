// Package main provides the Fakturo automation API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/fakturo/fakturo/pkg/eventbus"
	"github.com/fakturo/fakturo/pkg/interpreter"
	"github.com/fakturo/fakturo/pkg/persistence"
	"github.com/fakturo/fakturo/pkg/registry"
	"github.com/fakturo/fakturo/pkg/scheduler"
	"github.com/fakturo/fakturo/pkg/services"
	"github.com/fakturo/fakturo/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: p,
		registry:    reg,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	interp := interpreter.NewInterpreter(a.registry, a.logger)
	sched := scheduler.NewScheduler(a.persistence, interp, a.eventBus, a.logger)

	automationService := services.NewAutomation(a.persistence)
	runService := services.NewRun(a.persistence, sched)

	handlers := web.NewAPIHandlers(automationService, runService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Fakturo API")
	})

	automations := app.Group("/automations")
	automations.Get("/", handlers.GetAutomations)
	automations.Post("/", handlers.CreateAutomation)
	automations.Get("/:id", handlers.GetAutomation)
	automations.Patch("/:id", handlers.UpdateAutomation)
	automations.Delete("/:id", handlers.DeleteAutomation)
	automations.Post("/:id/activate", handlers.ActivateAutomation)
	automations.Post("/:id/deactivate", handlers.DeactivateAutomation)
	automations.Post("/:id/runs", handlers.StartRun)
	automations.Get("/:id/runs", handlers.GetRuns)

	runs := app.Group("/runs")
	runs.Get("/:id", handlers.GetRun)
	runs.Post("/:id/retry", handlers.RetryRun)
	runs.Post("/:id/cancel", handlers.CancelRun)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
