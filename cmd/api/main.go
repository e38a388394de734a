package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/passbi/splitticket/internal/analysis"
	"github.com/passbi/splitticket/internal/api"
	"github.com/passbi/splitticket/internal/cache"
	"github.com/passbi/splitticket/internal/config"
	"github.com/passbi/splitticket/internal/db"
	"github.com/passbi/splitticket/internal/engine"
	"github.com/passbi/splitticket/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

func main() {
	config.SetupLogging()
	log.Info().Msg("Starting split-ticket API server")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := context.Background()
	e, err := engine.New(ctx, cfg, registry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise engine")
	}
	defer e.Close()

	if e.History != nil {
		if err := e.History.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare analysis history")
		}
	}

	jobs := analysis.NewJobs(e.Service, e.Recorder())

	handlerOptions := []api.HandlerOption{}
	var limiters []fiber.Handler
	if e.Redis != nil {
		handlerOptions = append(handlerOptions, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return cache.HealthCheck(ctx, e.Redis)
		}))
		limiters = append(limiters, middleware.RateLimitMiddleware(e.Redis, middleware.RateLimitConfig{
			PerMinute: cfg.API.RateLimitPerMinute,
			PerDay:    cfg.API.RateLimitPerDay,
		}))
	} else {
		log.Warn().Msg("Redis not configured, analysis creation is not rate limited")
	}
	if e.Pool != nil {
		handlerOptions = append(handlerOptions,
			api.WithHealthCheck("database", func(ctx context.Context) error {
				return db.HealthCheck(ctx, e.Pool)
			}),
			api.WithHistory(e.History),
		)
	}

	handler := api.NewHandler(jobs, cfg.DefaultTraveler, handlerOptions...)

	app := fiber.New(fiber.Config{
		AppName:               "Split-Ticket API",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          api.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	api.RegisterRoutes(app, handler, registry, limiters...)

	addr := fmt.Sprintf(":%s", cfg.API.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := jobs.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Running analyses did not finish in time")
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	log.Info().
		Str("addr", addr).
		Str("cache", cfg.Cache.Backend).
		Int("workers", cfg.MatrixWorkers).
		Bool("history", e.History != nil).
		Msg("Server listening")

	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}

	if e.Redis != nil {
		log.Info().Fields(cache.PoolStats(e.Redis)).Msg("Redis pool")
	}
	log.Info().Interface("pricing", e.Client.Stats()).Interface("cache", e.Store.Stats()).Msg("Server stopped")
}
