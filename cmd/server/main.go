// Command server runs the audit engine behind its HTTP boundary.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"chronicle/internal/audit/compliance"
	"chronicle/internal/audit/export"
	"chronicle/internal/audit/ingest"
	"chronicle/internal/audit/query"
	"chronicle/internal/audit/search"
	"chronicle/internal/audit/sink"
	"chronicle/internal/audit/stats"
	"chronicle/internal/audit/store"
	"chronicle/internal/audit/store/memory"
	auditpg "chronicle/internal/audit/store/postgres"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/httpserver"
	"chronicle/internal/platform/logger"
	"chronicle/internal/platform/middleware"
	platformredis "chronicle/internal/platform/redis"
	httptransport "chronicle/internal/transport/http"
	"chronicle/pkg/domain"
)

// main wires the dependencies and owns the process lifecycle. Business
// logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	// Stores. Postgres when configured, memory otherwise.
	var (
		events  store.EventStore
		exports store.ExportStore
	)
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := auditpg.EnsureSchema(ctx, db); err != nil {
			return err
		}
		events = auditpg.NewEventStore(db)
		exports = auditpg.NewExportStore(db)
		log.Info("using postgres store")
	} else {
		events = memory.NewEventStore()
		exports = memory.NewExportStore()
		log.Warn("no postgres dsn configured, events are not durable")
	}

	// Optional SIEM sink.
	var eventSink sink.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := sink.NewKafka(sink.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, sink.NewMetrics(), log)
		if err != nil {
			return err
		}
		eventSink = kafka
		log.Info("siem sink enabled", "topic", cfg.KafkaTopic)
	}

	// Optional Redis token cache.
	var tokens export.TokenCache
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		tokens = export.NewRedisTokenCache(redisClient.Client)
		log.Info("redis token cache enabled")
	}

	// Services.
	ingestService := ingest.New(events, eventSink, ingest.NewMetrics(), log, ingest.Config{})
	engine := query.NewEngine(events, log)
	searchService := search.NewService(engine, events, log)
	orchestrator := export.NewOrchestrator(exports, engine, tokens, export.NewMetrics(), log, export.Config{
		Dir:         cfg.ExportDir,
		DownloadTTL: cfg.ExportDownloadTTL,
	})
	complianceCfg := compliance.Config{RetentionDays: cfg.RetentionDays}
	if cfg.SystemTenantID != "" {
		systemTenant, err := domain.ParseTenantID(cfg.SystemTenantID)
		if err != nil {
			return err
		}
		complianceCfg.SystemTenant = systemTenant
	}
	enforcer := compliance.NewEnforcer(events, ingestService, compliance.NewMetrics(), log, complianceCfg)
	aggregator := stats.NewAggregator(events, log)

	scheduler, err := compliance.NewScheduler(enforcer, cfg.RetentionSchedule, log)
	if err != nil {
		return err
	}
	scheduler.Start()

	// HTTP boundary.
	auth := middleware.NewAuthenticator(cfg.JWTSigningKey)
	handler := httptransport.NewHandler(ingestService, engine, searchService, orchestrator, enforcer, aggregator, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, auth, log))

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting chronicle", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	// Stop intake first, then drain the pipelines front to back.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error("scheduler shutdown failed", "error", err)
	}
	if err := orchestrator.Close(shutdownCtx); err != nil {
		log.Error("export shutdown failed", "error", err)
	}
	if err := ingestService.Close(shutdownCtx); err != nil {
		log.Error("ingest shutdown failed", "error", err)
	}
	if eventSink != nil {
		if err := eventSink.Close(shutdownCtx); err != nil {
			log.Error("sink shutdown failed", "error", err)
		}
	}
	log.Info("shutdown complete")
	return nil
}
