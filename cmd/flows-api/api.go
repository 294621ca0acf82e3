// Package main provides the flows API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/engageflow/flows/pkg/dispatch"
	"github.com/engageflow/flows/pkg/gateway"
	"github.com/engageflow/flows/pkg/persistence"
	"github.com/engageflow/flows/pkg/registry"
	"github.com/engageflow/flows/pkg/services"
	"github.com/engageflow/flows/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	dispatcher  dispatch.Dispatcher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	dispatcher dispatch.Dispatcher,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		dispatcher:  dispatcher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlowService(a.persistence, a.registry)
	gw := gateway.NewGateway(a.persistence, a.dispatcher, a.logger)

	handlers := web.NewAPIHandlers(flowService, gw, a.persistence, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flows API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
