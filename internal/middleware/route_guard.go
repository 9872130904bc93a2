package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/healthdash/backend/internal/metrics"
	"github.com/healthdash/backend/internal/session"
	"go.uber.org/zap"
)

const CtxDecision = "route_decision"

// RouteGuard applies the route authorization decision to page requests.
// Redirects are answered with 302 and never reach the page handler.
func RouteGuard(m *metrics.Collector, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d := session.Authorize(GetSession(c), c.Path())
		m.RecordRouteDecision(!d.Allow)

		if !d.Allow {
			log.Debug("page redirect",
				zap.String("request_id", GetRequestID(c)),
				zap.String("path", c.Path()),
				zap.String("to", d.RedirectTo),
			)
			return c.Redirect(d.RedirectTo, fiber.StatusFound)
		}

		c.Locals(CtxDecision, d)
		return c.Next()
	}
}
