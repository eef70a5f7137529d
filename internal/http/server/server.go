package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"

	"invoice-printer/internal/config"
	"invoice-printer/internal/http/handlers"
	"invoice-printer/internal/http/middleware"
	"invoice-printer/internal/infra/logging"
)

// Deps are the collaborators wired into the app.
type Deps struct {
	Config   config.Config
	Redis    *redis.Client
	Store    fiber.Storage
	Printing *handlers.PrintingService
}

// New creates and configures the Fiber app.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               d.Config.Server.Prefork,
		BodyLimit:             d.Config.Server.BodyLimitBytes,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	middleware.Register(app, d.Config, middleware.Options{Redis: d.Redis, Store: d.Store})
	registerRoutes(app, d.Printing)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, svc *handlers.PrintingService) {
	api := app.Group("/api")
	api.Post("/printing", svc.HandlePrint)
	api.Get("/printing", svc.HandleStatus)
	api.Get("/printers", svc.HandlePrinters)
	api.Get("/engine/stats", svc.HandleEngineStats)

	app.Get("/ops/monitor", monitor.New(monitor.Config{Title: "invoice-printer"}))
}
