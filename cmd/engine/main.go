// cmd/engine/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"civigo/internal/assignment"
	"civigo/internal/audit"
	"civigo/internal/common/config"
	"civigo/internal/common/database"
	"civigo/internal/common/dispatch"
	"civigo/internal/common/logger"
	"civigo/internal/common/observability"
	"civigo/internal/common/retry"
	"civigo/internal/gateway"
	"civigo/internal/ledger"
	"civigo/internal/lifecycle"
	"civigo/internal/store"

	ao "civigo/internal/workers/assign-officer"
	cs "civigo/internal/workers/classify-service"
	rc "civigo/internal/workers/redaction-check"
	sn "civigo/internal/workers/send-notification"
)

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)
	zapLog.Info("Starting lifecycle engine...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("lifecycle-engine")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retry.WithBackoff(ctx, func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retry.WithBackoff(ctx, func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, log, "Elasticsearch connection")
	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retry.WithBackoff(ctx, func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, log, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Core components ---
	auditor := audit.NewIndexer(esClient.Client, cfg.Database.Elasticsearch.AuditIndex, log)
	machine := lifecycle.NewMachine(pg.DB, auditor, log)
	led := ledger.New(pg.DB, redisClient.Client, log)
	apps := store.NewApplicationStore(pg.DB, log)
	records := store.NewAssignmentRecordStore(pg.DB, log)
	outbox := store.NewNotificationStore(pg.DB, log)
	engine := assignment.NewEngine(pg.DB, machine, led, records, cfg.Assignment, auditor, log)

	redactionGW := gateway.NewRedaction(cfg.Gateways.Redaction, log)
	classificationGW := gateway.NewClassification(cfg.Gateways.Classification, log)

	// --- Register stage workers ---
	dispatcher := dispatch.New(log)

	dispatcher.Register(
		rc.NewHandler(apps, machine, redactionGW, config.GetWorkerConfig(cfg, rc.WorkerName), obs, log),
		config.GetWorkerConfig(cfg, rc.WorkerName),
	)
	dispatcher.Register(
		cs.NewHandler(apps, machine, classificationGW, config.GetWorkerConfig(cfg, cs.WorkerName), obs, log),
		config.GetWorkerConfig(cfg, cs.WorkerName),
	)
	dispatcher.Register(
		ao.NewHandler(apps, engine, config.GetWorkerConfig(cfg, ao.WorkerName), cfg.Assignment, obs, log),
		config.GetWorkerConfig(cfg, ao.WorkerName),
	)
	if config.IsWorkerEnabled(cfg, sn.WorkerName) {
		snHandler, err := sn.NewHandler(outbox, config.GetWorkerConfig(cfg, sn.WorkerName), cfg.Notifications, log)
		if err != nil {
			zapLog.Fatal("failed to create send-notification handler", zap.Error(err))
		}
		dispatcher.Register(snHandler, config.GetWorkerConfig(cfg, sn.WorkerName))
	}

	dispatcher.Start(ctx)
	zapLog.Info("All stage workers registered")

	// --- Health / Metrics server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := pg.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.String("addr", cfg.Metrics.Addr))
		if err := http.ListenAndServe(cfg.Metrics.Addr, nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := dispatcher.Stop(shutdownCtx); err != nil {
		zapLog.Error("worker shutdown incomplete", zap.Error(err))
	}
	zapLog.Info("Lifecycle engine stopped")
}
