package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/healthdash/backend/internal/config"
	"github.com/healthdash/backend/internal/http/dto"
	"github.com/healthdash/backend/internal/http/handlers"
	"github.com/healthdash/backend/internal/metrics"
	"github.com/healthdash/backend/internal/middleware"
	"github.com/healthdash/backend/internal/rbac"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewApp builds the fiber app with the JSON error handler. Routing is case
// sensitive and strict so that a path reaches a page handler only in the
// canonical form the route guard checks.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		DisableStartupMessage: true,
		CaseSensitive:         true,
		StrictRouting:         true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{
				Error:     err.Error(),
				RequestID: middleware.GetRequestID(c),
			})
		},
	})
}

type Handlers struct {
	Auth    *handlers.AuthHandler
	Session *handlers.SessionHandler
	Pages   *handlers.PageHandler
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	collector *metrics.Collector,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowCredentials: cfg.CORSAllowOrigins != "*",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.SessionMiddleware(cfg, log))
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(gatherer)))
	}

	api := app.Group("/api/v1")

	// Auth (public, rate limited)
	var counter middleware.WindowCounter
	if rdb != nil {
		counter = middleware.NewRedisCounter(rdb)
	}
	authGroup := api.Group("/auth", middleware.RateLimitMiddleware(counter, cfg.AuthRateLimit, time.Minute))
	authGroup.Post("/signup", h.Auth.Signup)
	authGroup.Post("/signin", h.Auth.Signin)
	authGroup.Post("/wallet", h.Auth.SigninWithWallet)
	authGroup.Post("/logout", h.Auth.Logout)

	api.Get("/authorize", h.Session.Authorize)

	// Protected endpoints
	protected := api.Group("", middleware.RequireSession())
	protected.Get("/me", h.Session.GetMe)
	protected.Get("/me/activity", h.Session.Activity)

	// Pages
	guard := middleware.RouteGuard(collector, log)
	pages := []string{
		rbac.RouteLanding,
		rbac.RouteSignin,
		rbac.RouteSignup,
		rbac.RouteDashboard,
		rbac.RouteNotFound,
	}
	for _, scope := range rbac.RoleScopes {
		pages = append(pages, scope.Prefix, scope.Prefix+"/*")
	}
	for _, p := range pages {
		app.Get(p, guard, h.Pages.Render)
	}
}
