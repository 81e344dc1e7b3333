package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/girderhq/girder/pkg/audit"
	"github.com/girderhq/girder/pkg/companies"
	"github.com/girderhq/girder/pkg/config"
	"github.com/girderhq/girder/pkg/middleware"
	"github.com/girderhq/girder/pkg/observability"
	"github.com/girderhq/girder/pkg/permissions"
	"github.com/girderhq/girder/pkg/rbac"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "girder: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting girder authorization service")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// Postgres
	db, err := sql.Open("postgres", cfg.Database.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Database.PostgresMinConns)
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := rbac.Migrate(ctx, db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis snapshot cache. Optional: without it every check resolves from
	// Postgres, which is correct but slower.
	var redisClient *redis.Client
	var cache rbac.SnapshotCache = rbac.NopCache{}
	if cfg.Database.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Database.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		if cfg.Database.RedisPassword != "" {
			redisOpts.Password = cfg.Database.RedisPassword
		}
		redisOpts.DB = cfg.Database.RedisDB
		redisOpts.PoolSize = cfg.Database.RedisPoolSize
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		cache = rbac.NewRedisCache(redisClient, rbac.RedisCacheOptions{
			L1Size: cfg.Authz.L1CacheSize,
			L1TTL:  cfg.Authz.L1CacheTTL,
		})
		logger.Info("Snapshot cache enabled")
	} else {
		logger.Warn("GIRDER_REDIS_URL not set, running without snapshot cache")
	}

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Stores and resolver
	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	permRegistry := permissions.NewDefaultRegistry()
	companyStore := companies.NewStore(db)
	store := rbac.NewStore(db, permRegistry, cache, auditLogger, logger)
	resolver := rbac.NewResolver(store, companyStore, permRegistry, cache, rbac.ResolverOptions{
		TTL:     cfg.Authz.SnapshotTTL,
		Logger:  logger,
		Metrics: metrics,
	})

	// Expired-assignment sweeper
	sweeper := rbac.NewSweeper(db, cache, logger)
	if err := sweeper.Start(cfg.Authz.SweepSchedule); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}
	logger.WithField("schedule", cfg.Authz.SweepSchedule).Info("Expired-assignment sweeper started")

	// API server
	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	router.Use(middleware.IdentityMiddleware)

	handlers := rbac.NewHandlers(store, companyStore, resolver, logger)
	handlers.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener for k8s probes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			os.Exit(1)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditLogger.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		})
	}

	return shutdown.WaitForShutdown()
}
