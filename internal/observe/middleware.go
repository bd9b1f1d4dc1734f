package observe

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Middleware returns a fiber handler that records request duration to
// [Metrics.HTTPRequestDuration] and logs completion at debug level.
// WebSocket upgrades are timed until the connection closes.
func Middleware(m *Metrics, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		path := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			path = r.Path
		}

		m.HTTPRequestDuration.Record(c.UserContext(), duration.Seconds(),
			metric.WithAttributes(
				attribute.String("method", c.Method()),
				attribute.String("path", path),
			),
		)

		logger.Debug("http request",
			"method", c.Method(),
			"path", path,
			"status", c.Response().StatusCode(),
			"duration_ms", duration.Milliseconds(),
		)
		return err
	}
}
