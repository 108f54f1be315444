package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/resumeforge/aiqueue/internal/queue"
	"github.com/resumeforge/aiqueue/internal/storage"
)

func SetupRoutes(app *fiber.App, q *queue.Queue, history storage.Store) {
	h := NewHandler(q, history)

	v1 := app.Group("/v1")

	v1.Post("/requests", h.SubmitRequest)
	v1.Get("/requests", h.ListRequests)
	v1.Get("/requests/stats", h.GetRequestStats)
	v1.Get("/requests/:id", h.GetRequest)

	v1.Get("/queue/status", h.GetQueueStatus)
	v1.Post("/queue/clear", h.ClearQueue)

	v1.Get("/ratelimit/:owner", h.GetRateLimitStatus)

	v1.Get("/providers", h.ListProviders)
	v1.Get("/providers/health", h.GetProviderHealth)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
