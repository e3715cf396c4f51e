// Package app wires siemgate's modes (ingest, search, rules, migrate, all)
// together from config.Config: infrastructure connections, the HTTP
// server, and the streaming rule engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/siemgate/internal/alerting"
	"github.com/wisbric/siemgate/internal/apikeyauth"
	"github.com/wisbric/siemgate/internal/breaker"
	"github.com/wisbric/siemgate/internal/bulkwriter"
	"github.com/wisbric/siemgate/internal/capability"
	"github.com/wisbric/siemgate/internal/config"
	"github.com/wisbric/siemgate/internal/controlplane"
	"github.com/wisbric/siemgate/internal/eventbus"
	"github.com/wisbric/siemgate/internal/eventbus/kafkabus"
	"github.com/wisbric/siemgate/internal/eventbus/redisbus"
	"github.com/wisbric/siemgate/internal/httpserver"
	"github.com/wisbric/siemgate/internal/idempotency"
	"github.com/wisbric/siemgate/internal/ingest"
	"github.com/wisbric/siemgate/internal/lock"
	"github.com/wisbric/siemgate/internal/platform"
	"github.com/wisbric/siemgate/internal/rules"
	"github.com/wisbric/siemgate/internal/search"
	"github.com/wisbric/siemgate/internal/store"
	"github.com/wisbric/siemgate/internal/telemetry"
)

// ErrDependencyStartup wraps any error encountered while connecting to or
// probing a required upstream (control-plane database, Redis, columnar
// store) during startup. cmd/siemgate maps it to exit code 2, distinct
// from exit code 1 for config or bind errors, per the environment's exit
// code contract.
var ErrDependencyStartup = errors.New("dependency startup failure")

// Run is the main application entry point: it reads config, connects to
// infrastructure, and starts whichever of ingest/search/rules/migrate this
// process's mode requires ("all" runs every one in a single process).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting siemgate", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("control-plane migrations applied")
		return nil
	}

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to control-plane database: %w: %w", ErrDependencyStartup, err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running control-plane migrations: %w", err)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w: %w", ErrDependencyStartup, err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	chConfig, err := parseClickHouseURL(cfg.ClickHouseURL, cfg.ClickHouseDatabase)
	if err != nil {
		return fmt.Errorf("parsing clickhouse URL: %w", err)
	}
	storeBreaker := breaker.New("columnar-store")
	chClient, err := store.NewClickHouseClient(ctx, chConfig)
	if err != nil {
		return fmt.Errorf("connecting to columnar store: %w: %w", ErrDependencyStartup, err)
	}

	capability.Set(capability.Flags{
		CIDRMatch: chClient.ProbeCapability(ctx, "ipCIDRMatch"),
		LZ4Insert: chConfig.EnableLZ4,
	})

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	limitsStore := controlplane.NewPostgresStore(db)
	limitsRegistry := controlplane.NewRegistry(limitsStore)
	if err := limitsRegistry.Reload(ctx); err != nil {
		return fmt.Errorf("loading tenant limits: %w", err)
	}

	keyStore := apikeyauth.NewPostgresStore(db)
	idemStore := idempotency.NewPostgresStore(db)
	lockBackend := lock.NewRedisBackend(rdb)

	ruleStore := rules.NewPostgresStore(db)
	ruleRegistry := rules.NewRegistry(ruleStore)
	if err := ruleRegistry.Reload(ctx); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	runIngest := cfg.Mode == "ingest" || cfg.Mode == "all"
	runSearch := cfg.Mode == "search" || cfg.Mode == "all"
	runRules := cfg.Mode == "rules" || cfg.Mode == "all"

	var producer eventbus.Producer
	var consumer eventbus.Consumer
	if runIngest || runRules {
		producer, consumer, err = newEventBus(ctx, cfg, rdb, limitsRegistry, logger)
		if err != nil {
			return fmt.Errorf("setting up event bus: %w", err)
		}
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, chClient, rdb, consumer, keyStore, metricsReg)
	srv.Router.Get("/status", srv.HandleStatus)

	if runIngest {
		dlq := ingest.NewProducerDLQSink(producer)
		writer := bulkwriter.New(chClient, storeBreaker, cfg.EventsTable)
		router := ingest.New(ingest.Config{
			BatchSize:     cfg.BatchSize,
			FlushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
			MaxBufferSize: cfg.MaxBufferSize,
		}, limitsRegistry, writer.Flush, dlq, logger)
		defer router.Shutdown()

		ingestHandler := httpserver.NewIngestHandler(router, idemStore, lockBackend, producer, logger)
		srv.APIRouter.Post("/events", ingestHandler.HandleBatch)
	}

	if runSearch {
		executor := search.New(chClient, storeBreaker, cfg.EventsTable)
		searchHandler := httpserver.NewSearchHandler(executor, logger)
		srv.APIRouter.Post("/search", searchHandler.HandleSearch)
		srv.APIRouter.Post("/search/estimate", searchHandler.HandleEstimate)
		srv.APIRouter.Post("/search/facets", searchHandler.HandleFacets)

		alertsHandler := httpserver.NewAlertsHandler(chClient, cfg.AlertsTable, logger)
		srv.APIRouter.Get("/alerts", alertsHandler.HandleList)
	}

	adminHandler := httpserver.NewAdminHandler(limitsStore, limitsRegistry, keyStore, ruleStore, ruleRegistry, logger)
	srv.APIRouter.Route("/admin", func(r chi.Router) {
		r.Use(httpserver.RequireRole(apikeyauth.RoleAdmin))
		r.Post("/tenants", adminHandler.HandleCreateTenantLimits)
		r.Put("/tenants", adminHandler.HandleUpdateTenantLimits)
		r.Post("/api-keys", adminHandler.HandleIssueAPIKey)
		r.Delete("/api-keys", adminHandler.HandleRevokeAPIKey)
		r.Put("/rules", adminHandler.HandleUpsertRule)
	})

	var ruleEngine *rules.Engine
	if runRules {
		alertStore := alerting.NewStore(chClient, storeBreaker, cfg.AlertsTable)
		throttle := alerting.NewRedisThrottle(rdb)
		emitter := alerting.NewEmitter(alertStore, throttle, nil)
		checkpointer := rules.NewRedisCheckpointer(rdb)
		busName := "redis"
		if cfg.UsesKafka() {
			busName = "kafka"
		}
		ruleEngine = rules.NewEngine(ruleRegistry, emitter, checkpointer, logger, busName, cfg.RuleShardCount, cfg.RuleShardBuffer)
	}

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	if runRules {
		go func() {
			if err := ruleEngine.Run(ctx, consumer); err != nil {
				errCh <- fmt.Errorf("rule engine: %w", err)
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if consumer != nil {
			_ = consumer.Close()
		}
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newEventBus builds the configured event bus backend (Kafka if brokers
// are set, Redis Streams otherwise), returning both a Producer for the
// ingestion fan-out and a Consumer for the rule engine.
func newEventBus(ctx context.Context, cfg *config.Config, rdb *redis.Client, limitsRegistry *controlplane.Registry, logger *slog.Logger) (eventbus.Producer, eventbus.Consumer, error) {
	if cfg.UsesKafka() {
		producer := kafkabus.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		consumer := kafkabus.NewConsumer(kafkabus.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
		})
		return producer, consumer, nil
	}

	producer := redisbus.NewProducer(rdb)
	consumer, err := redisbus.NewConsumer(ctx, rdb, redisbus.Config{
		Group:      cfg.KafkaGroup,
		ConsumerID: "siemgate-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		ClaimEvery: eventbus.ReclaimIdle,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis streams consumer: %w", err)
	}
	return producer, consumer, nil
}

// parseClickHouseURL derives store.ClickHouseConfig's Addr/Username/
// Password from a clickhouse://[user[:pass]@]host:port/database DSN,
// since config.Config carries the URL as a single string but the client
// constructor wants its parts split out.
func parseClickHouseURL(rawURL, database string) (store.ClickHouseConfig, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return store.ClickHouseConfig{}, fmt.Errorf("invalid URL: %w", err)
	}

	cfg := store.ClickHouseConfig{
		Addr:      u.Host,
		Database:  database,
		EnableLZ4: true,
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:9000"
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		cfg.Database = db
	}
	return cfg, nil
}
