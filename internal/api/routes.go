package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/relay-adapter/internal/store"
)

// HealthReporter reports broker connectivity (publisher.EnvelopePublisher).
type HealthReporter interface {
	Healthy() bool
}

// RegisterRoutes mounts metrics, health and the v1 bridge API. events may be
// nil when event publishing is disabled.
func RegisterRoutes(app *fiber.App, events HealthReporter, st store.Store, handler *BridgeHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"events": "ok",
			"store":  "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if events == nil {
			checks["events"] = "disabled"
		} else if !events.Healthy() {
			checks["events"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Post("/quotes", handler.CreateQuoteHandler)
	v1.Post("/bridges", handler.CreateBridgeHandler)
	v1.Get("/bridges/:requestId", handler.GetBridgeHandler)
}
