package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/idregistry/idregistry/internal/auth"
	"github.com/idregistry/idregistry/internal/config"
	"github.com/idregistry/idregistry/internal/middleware"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/mirror"
	"github.com/idregistry/idregistry/internal/registry"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	Cache    *redis.Client
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Tokens   *auth.Service
	Checks   []HealthCheck
	// Events overrides the registry's in-memory log on /registry/events.
	Events EventFeed
}

// SetupRegistry wires the registry node API.
func SetupRegistry(app *fiber.App, d Deps, reg *registry.Registry) error {
	if err := setupCommon(app, d); err != nil {
		return err
	}
	api := app.Group("/api/v1")
	RegisterRegistryRoutes(api, NewRegistryHandler(reg, d.Events, d.Metrics), protection(d))
	return nil
}

// SetupGateway wires the verification gateway API. reader answers checks,
// usually through the Redis cache.
func SetupGateway(app *fiber.App, d Deps, svc *mirror.Service, reader registry.Reader) error {
	if err := setupCommon(app, d); err != nil {
		return err
	}
	api := app.Group("/api/v1")
	RegisterVerificationRoutes(api, mirror.NewHandler(svc), reader, protection(d))
	return nil
}

// Protection bundles the middleware guarding mutating routes.
type Protection struct {
	Auth        fiber.Handler
	Idempotency fiber.Handler
	RateLimit   fiber.Handler
}

func protection(d Deps) Protection {
	p := Protection{
		Auth:      middleware.CallerAuth(d.Tokens),
		RateLimit: middleware.SubmitRateLimit(d.Cache, d.Cfg.SubmitRateLimit),
	}
	if d.Cache != nil {
		p.Idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}
	return p
}

// chain drops nil handlers so optional middleware can be listed inline.
func chain(handlers ...fiber.Handler) []fiber.Handler {
	out := handlers[:0:0]
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func setupCommon(app *fiber.App, d Deps) error {
	// Enforce Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Tokens == nil {
		return fmt.Errorf("token service is required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d.Checks)
	if d.Gatherer != nil {
		RegisterMetricsRoute(app, d.Gatherer)
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"service":    d.Cfg.AppName,
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	if d.Cfg.IsDev() {
		RegisterAuthRoutes(api, auth.NewHandler(d.Tokens))
	}
	return nil
}
