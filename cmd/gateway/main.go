package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/idregistry/idregistry/internal/auth"
	"github.com/idregistry/idregistry/internal/config"
	"github.com/idregistry/idregistry/internal/infra"
	"github.com/idregistry/idregistry/internal/logging"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/mirror"
	"github.com/idregistry/idregistry/internal/registry"
	"github.com/idregistry/idregistry/internal/registry/client"
	"github.com/idregistry/idregistry/internal/relay"
	"github.com/idregistry/idregistry/internal/routes"
	"github.com/idregistry/idregistry/internal/server"
)

const projectionName = "gateway-mirror"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateGateway(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName+"-gateway", cfg.AppEnv)

	ctx := context.Background()
	var checks []routes.HealthCheck

	var repo mirror.Repository
	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate schema", "error", err)
			os.Exit(1)
		}
		repo = mirror.NewPostgresRepository(db)
		checks = append(checks, routes.HealthCheck{Name: "postgres", Check: db.Ping})
	} else {
		logger.Warn("DATABASE_URL not set, mirror is in memory")
		repo = mirror.NewMemoryRepository()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName+"-gateway")
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		checks = append(checks, routes.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return cache.Ping(ctx).Err()
		}})
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	remote := client.New(cfg.RegistryURL)
	checks = append(checks, routes.HealthCheck{Name: "registry", Check: func(ctx context.Context) error {
		_, err := remote.Stats(ctx)
		return err
	}})

	var (
		reader registry.Reader = remote
		writer registry.Writer = remote
		sinks  []relay.Option
	)
	if cache != nil {
		invalidator := client.NewInvalidator(cache)
		reader = client.NewCachedReader(remote, cache, cfg.CheckCacheTTL, logger, m)
		writer = client.NewInvalidatingWriter(remote, invalidator, logger)
		sinks = append(sinks, relay.WithBestEffortSink(invalidator))
	}

	svc := mirror.NewService(repo, remote, writer, logger, m)
	projector := mirror.NewProjector(svc, projectionName)

	relayOpts := append([]relay.Option{
		relay.WithSink(projector),
		relay.WithBatchSize(cfg.RelayBatchSize),
		relay.WithMetrics(m),
	}, sinks...)
	worker := relay.New(remote, projector, logger.With("component", "projection"), relayOpts...)

	srv, err := server.New(cfg, logger, func(app *fiber.App) error {
		return routes.SetupGateway(app, routes.Deps{
			Cfg:      cfg,
			Cache:    cache,
			Logger:   logger,
			Metrics:  m,
			Gatherer: promReg,
			Tokens:   auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL),
			Checks:   checks,
		}, svc, reader)
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(srv.Listen)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway exited cleanly")
}
