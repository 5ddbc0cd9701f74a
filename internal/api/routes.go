package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/darkpool-adapter/internal/store"
)

// RegisterRoutes mounts the health, metrics and match flow routes. nc may be
// nil when flow events are not published to NATS.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st store.Store, handler *DarkpoolHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", healthHandler(nc, st))

	v1 := app.Group("/api/v1")
	v1.Post("/quotes", handler.CreateQuoteHandler)
	v1.Post("/quotes/:flowId/requote", handler.RequoteHandler)
	v1.Post("/quotes/:flowId/assemble", handler.AssembleHandler)
	v1.Post("/quotes/:flowId/submit", handler.SubmitHandler)
	v1.Get("/flows/:flowId", handler.GetFlowHandler)
	v1.Get("/markets", handler.MarketsHandler)
}

func healthHandler(nc *nats.Conn, st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		checks := map[string]string{"store": "ok"}
		status := "ok"
		code := fiber.StatusOK

		if nc != nil {
			checks["nats"] = "ok"
			if !nc.IsConnected() {
				checks["nats"] = "disconnected"
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
				checks["nats"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
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
	}
}
