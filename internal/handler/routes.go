package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"camera-relay/internal/config"
	"camera-relay/internal/metrics"
	"camera-relay/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	// Per-route middleware keeps 405 for other methods; a group with
	// middleware would answer them with its 404 catch-all.
	relayHeaders := middleware.RelayHeaders(allowsAnyOrigin(cfg.CORS.AllowOrigins))
	e.GET("/api/ai/proxy-stream", relay.Stream, relayHeaders)
	e.GET("/api/ai/proxy-snapshot", relay.Snapshot, relayHeaders)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
