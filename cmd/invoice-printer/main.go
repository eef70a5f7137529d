package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"invoice-printer/internal/config"
	"invoice-printer/internal/dispatch"
	"invoice-printer/internal/http/handlers"
	"invoice-printer/internal/http/server"
	"invoice-printer/internal/infra/chrome"
	"invoice-printer/internal/infra/logging"
	"invoice-printer/internal/pipeline"
	"invoice-printer/internal/render"
)

func main() {
	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	app, cleanup, err := buildApp(cfg)
	if err != nil {
		logging.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// buildApp wires renderer, dispatcher and pipeline into the HTTP app. cleanup
// releases the engine limiter and the Redis client.
func buildApp(cfg config.Config) (*fiber.App, func(), error) {
	var rdb *redis.Client
	if cfg.RateLimiter.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.RateLimiter.RedisHost,
			DB:   cfg.RateLimiter.RedisDB,
		})
	}

	var limiter *chrome.Limiter
	if cfg.Render.Strategy == config.StrategyTemplate {
		l, err := chrome.NewLimiter(cfg.Render.MaxEngines)
		if err != nil {
			return nil, nil, err
		}
		limiter = l
	}

	renderer, err := render.New(cfg, limiter)
	if err != nil {
		return nil, nil, err
	}
	dispatcher := dispatch.New(cfg, dispatch.ExecRunner{})

	app := server.New(server.Deps{
		Config: cfg,
		Redis:  rdb,
		Printing: &handlers.PrintingService{
			Processor: pipeline.NewService(cfg, renderer, dispatcher),
			Printers:  dispatcher.Cloud(),
			Limiter:   limiter,
			Renderer:  renderer.Name(),
		},
	})
	logging.Info("Service configured",
		"renderer", renderer.Name(),
		"paper", cfg.Render.Paper,
		"cloud_print", cfg.Print.Cloud.APIKey != "",
		"auth_keys", len(cfg.Auth.Keys),
	)

	cleanup := func() {
		if limiter != nil {
			limiter.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}
	return app, cleanup, nil
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint
	signal.Stop(sigint)

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
