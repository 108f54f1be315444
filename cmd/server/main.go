package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/resumeforge/aiqueue/internal/api"
	"github.com/resumeforge/aiqueue/internal/cache"
	"github.com/resumeforge/aiqueue/internal/config"
	"github.com/resumeforge/aiqueue/internal/counter"
	"github.com/resumeforge/aiqueue/internal/provider"
	"github.com/resumeforge/aiqueue/internal/queue"
	"github.com/resumeforge/aiqueue/internal/ratelimit"
	"github.com/resumeforge/aiqueue/internal/storage"
	"github.com/resumeforge/aiqueue/internal/storage/pebbledb"
	"github.com/resumeforge/aiqueue/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Shared counter and cache stores: Redis when configured, else
	// in-process memory.
	counterStore, cacheStore, err := buildStores(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize stores: %v", err)
	}
	defer counterStore.Close()
	defer cacheStore.Close()

	limiter := ratelimit.New(counterStore, ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		RequestsPerHour:   cfg.RequestsPerHour,
		FailOpen:          cfg.FailOpen,
	})

	responseCache := cache.New(cacheStore, cfg.CacheTTL)

	facade, err := buildFacade(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}

	history, err := buildHistory(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize history storage: %v", err)
	}
	if history != nil {
		defer history.Close()
	}

	q := queue.New(limiter, responseCache, facade, history, queue.Config{
		ConcurrentRequests: cfg.ConcurrentRequests,
		DispatchPerMinute:  cfg.DispatchPerMinute,
		RetryAttempts:      cfg.RetryAttempts,
		RetryMinDelay:      cfg.RetryMinDelay,
		RetryMaxDelay:      cfg.RetryMaxDelay,
		AttemptTimeout:     cfg.AttemptTimeout,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // requests block until terminal outcome
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	api.SetupRoutes(app, q, history)

	// Graceful shutdown: stop HTTP first, then drain the queue.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during HTTP shutdown: %v", err)
		}

		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := q.Shutdown(drainCtx); err != nil {
			log.Printf("Queue drain incomplete: %v", err)
		}
	}()

	log.Printf("Starting AI request queue server on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func buildStores(cfg *config.Config) (counter.Store, cache.Store, error) {
	if cfg.RedisURL != "" {
		counterStore, err := counter.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		cacheStore, err := cache.NewRedisStore(cfg.RedisURL)
		if err != nil {
			counterStore.Close()
			return nil, nil, err
		}
		return counterStore, cacheStore, nil
	}

	return counter.NewMemoryStore(), cache.NewMemoryStore(), nil
}

func buildFacade(cfg *config.Config) (*provider.Facade, error) {
	var adapters []provider.Adapter

	if cfg.AnthropicAPIKey != "" {
		a, err := provider.NewAnthropicAdapter(provider.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := provider.NewOpenAIAdapter(provider.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	return provider.NewFacade(cfg.FallbackEnabled, adapters...)
}

func buildHistory(cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "pebble":
		return pebbledb.New(cfg.StoragePath, true)
	case "none":
		return nil, nil
	default:
		return sqlite.New(cfg.StoragePath)
	}
}
