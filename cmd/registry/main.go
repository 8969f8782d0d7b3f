package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/idregistry/idregistry/internal/auth"
	"github.com/idregistry/idregistry/internal/config"
	"github.com/idregistry/idregistry/internal/infra"
	"github.com/idregistry/idregistry/internal/journal"
	"github.com/idregistry/idregistry/internal/logging"
	"github.com/idregistry/idregistry/internal/metrics"
	"github.com/idregistry/idregistry/internal/notification"
	"github.com/idregistry/idregistry/internal/registry"
	"github.com/idregistry/idregistry/internal/relay"
	"github.com/idregistry/idregistry/internal/routes"
	"github.com/idregistry/idregistry/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRegistry(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName+"-node", cfg.AppEnv)

	ctx := context.Background()
	var checks []routes.HealthCheck

	var db *pgxpool.Pool
	var store journal.Journal
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := infra.Migrate(ctx, db); err != nil {
			logger.Error("migrate schema", "error", err)
			os.Exit(1)
		}
		store = journal.NewPostgresJournal(db)
		checks = append(checks, routes.HealthCheck{Name: "postgres", Check: db.Ping})
	} else {
		logger.Warn("DATABASE_URL not set, journal is in memory and lost on restart")
		store = journal.NewInMemory()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName+"-node")
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

	var opts []registry.Option
	if cfg.EnumerateResubmissions {
		opts = append(opts, registry.WithEnumerateResubmissions())
	}
	history, err := store.Load(ctx, 0)
	if err != nil {
		logger.Error("load journal", "error", err)
		os.Exit(1)
	}
	reg, err := registry.Restore(cfg.RegistryOwner, history, opts...)
	if err != nil {
		logger.Error("restore registry", "error", err)
		os.Exit(1)
	}
	logger.Info("registry restored",
		"owner", cfg.RegistryOwner.String(),
		"events", len(history),
		"total_verified", reg.TotalVerified(),
	)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	journalSink := journal.NewSink(store)
	// Seed the watermark so restored history is servable before the relay runs.
	if _, err := journalSink.Load(ctx); err != nil {
		logger.Error("load journal watermark", "error", err)
		os.Exit(1)
	}
	relayOpts := []relay.Option{
		relay.WithSink(journalSink),
		relay.WithBestEffortSink(notification.NewSink(notification.NewLoggerNotifier(logger))),
		relay.WithBatchSize(cfg.RelayBatchSize),
		relay.WithMetrics(m),
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := infra.NewKafkaClient(ctx, cfg.KafkaBrokers, cfg.KafkaTopic, cfg.AppName+"-node")
		if err != nil {
			logger.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		relayOpts = append(relayOpts, relay.WithBestEffortSink(relay.NewKafkaSink(producer, cfg.KafkaTopic)))
	}
	worker := relay.New(reg.Events(), journalSink, logger.With("component", "relay"), relayOpts...)

	srv, err := server.New(cfg, logger, func(app *fiber.App) error {
		return routes.SetupRegistry(app, routes.Deps{
			Cfg:      cfg,
			Cache:    cache,
			Logger:   logger,
			Metrics:  m,
			Gatherer: promReg,
			Tokens:   auth.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL),
			Checks:   checks,
			Events:   journal.NewFeed(reg.Events(), journalSink),
		}, reg)
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
		logger.Error("registry node stopped", "error", err)
		os.Exit(1)
	}

	// Flush whatever the relay had not journaled yet.
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := drain(flushCtx, reg, journalSink); err != nil {
		logger.Error("flush journal", "error", err)
		os.Exit(1)
	}
	logger.Info("registry node exited cleanly")
}

// drain appends events the relay had not delivered before shutdown.
func drain(ctx context.Context, reg *registry.Registry, sink *journal.Sink) error {
	last, err := sink.Load(ctx)
	if err != nil {
		return err
	}
	pending := reg.Events().Since(last, 0)
	if len(pending) == 0 {
		return nil
	}
	return sink.Handle(ctx, pending)
}
