package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/reconhawk/reconhawk-stack/common/logging"
	"github.com/reconhawk/reconhawk-stack/common/messaging"
	natsclient "github.com/reconhawk/reconhawk-stack/common/messaging/nats"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/config"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/engine"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/enricher"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/eventsource"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/handlers"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/metrics"
	corrnats "github.com/reconhawk/reconhawk-stack/correlation/internal/nats"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/repository"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/rules"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/server"
	"github.com/reconhawk/reconhawk-stack/correlation/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("correlation"))
	logging.SetDefault(logger)

	slog.Info("Starting Correlation service",
		slog.Int("port", cfg.Server.Port),
		slog.String("event_source", cfg.EventSource.Backend),
		slog.String("rules_dir", cfg.Engine.RulesDir),
		slog.Int("workers", cfg.Engine.Workers),
	)

	connString := cfg.Database.Postgres.ConnString()

	slog.Info("Running database migrations")
	m, err := migrate.New(cfg.Database.MigrationsPath, connString)
	if err != nil {
		fatal("Failed to initialize migrations", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal("Failed to run migrations", err)
	}
	slog.Info("Database migrations completed")

	ctx := context.Background()
	pgRepo, err := repository.NewPostgresRepository(ctx, connString, cfg.Database.Postgres.MaxConns)
	if err != nil {
		fatal("Failed to connect to PostgreSQL", err)
	}
	defer pgRepo.Close()

	var repo repository.Repository = pgRepo
	if cfg.Redis.Enabled {
		redisClient, err := newRedisClient(ctx, cfg)
		if err != nil {
			slog.Warn("Redis unavailable, correlation dedupe cache disabled", logging.Error(err))
		} else {
			defer redisClient.Close()
			repo = repository.NewCachedStore(pgRepo, redisClient, cfg.Redis.DedupeTTL, nil)
			slog.Info("Correlation dedupe cache enabled", slog.Duration("ttl", cfg.Redis.DedupeTTL))
		}
	}

	source, err := eventsource.New(eventsource.Options{
		Backend:    cfg.EventSource.Backend,
		Pool:       pgRepo.Pool(),
		OpenSearch: cfg.OpenSearch,
	})
	if err != nil {
		fatal("Failed to create event source", err)
	}
	if osSource, ok := source.(*eventsource.OpenSearchSource); ok {
		if err := osSource.Ping(ctx); err != nil {
			fatal("Failed to reach OpenSearch", err)
		}
		slog.Info("Connected to OpenSearch", slog.String("url", cfg.OpenSearch.URL))
	}

	policy, err := engine.ParsePersistPolicy(cfg.Engine.PersistFailurePolicy)
	if err != nil {
		fatal("Invalid persist policy", err)
	}

	en := enricher.New(source, enricher.WithMaxDepth(cfg.Engine.EnrichMaxDepth))
	methods := engine.NewMethods()
	registry := engine.NewRegistry(engine.NewDefaultStrategy(methods, en))
	executor := engine.NewExecutor(source, repo,
		engine.WithRegistry(registry),
		engine.WithHooks(metrics.Register(engine.NewHooks())),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithPersistPolicy(policy),
		engine.WithLogger(slog.Default().With(logging.Component("executor"))),
	)

	loader := rules.NewLoader(methods).WithLogger(slog.Default().With(logging.Component("rule-loader")))

	var (
		natsClient *natsclient.Client
		publisher  messaging.Publisher
		busClient  messaging.Client
	)
	if cfg.NATS.Enabled {
		natsClient, err = natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "correlation-service",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
		})
		if err != nil {
			slog.Warn("Failed to connect to NATS (continuing without NATS)",
				slog.String("url", cfg.NATS.URL), logging.Error(err))
			natsClient = nil
		} else {
			slog.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
			publisher = natsClient
			busClient = natsClient
		}
	} else {
		slog.Info("NATS messaging disabled")
	}

	svc := service.NewService(executor, repo, source, loader, service.Options{
		RulesDir:   cfg.Engine.RulesDir,
		RunTimeout: cfg.Engine.RunTimeout,
		Enricher:   en,
		Publisher:  publisher,
	})
	if _, _, err := svc.ReloadRules(); err != nil {
		fatal("Failed to load rules", err)
	}

	var natsHandler *corrnats.Handler
	if natsClient != nil {
		natsHandler = corrnats.NewHandler(natsClient, svc)
		if err := natsHandler.Start(ctx); err != nil {
			slog.Warn("Failed to start NATS handler", logging.Error(err))
			natsHandler = nil
		}
	}

	h := handlers.NewHandler(svc, busClient)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(h, cfg.Server.AllowedOrigins, slog.Default()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Correlation service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	<-shutdownCtx.Done()
	slog.Info("Shutdown signal received")

	if natsHandler != nil {
		_ = natsHandler.Stop()
	}
	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			slog.Warn("NATS drain failed", logging.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", logging.Error(err))
	}
	slog.Info("Server stopped gracefully")
}

func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.MaxRetries = cfg.Redis.MaxRetries
	opts.PoolSize = cfg.Redis.PoolSize

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, logging.Error(err))
	os.Exit(1)
}
