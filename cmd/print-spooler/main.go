// Package main provides the print spooler entry point.
// Renders every issued prescription into the printer's spool directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/config"
	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/infrastructure/postgres"
	"github.com/perobal/sismed/internal/infrastructure/redpanda"
	"github.com/perobal/sismed/internal/observability/logging"
	"github.com/perobal/sismed/internal/observability/metrics"
	"github.com/perobal/sismed/internal/observability/tracing"
	"github.com/perobal/sismed/internal/printspool"
	"github.com/perobal/sismed/pkg/circuitbreaker"
	"github.com/perobal/sismed/pkg/idempotency"
	"github.com/perobal/sismed/pkg/workerpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	logger, err := logging.New(printspool.HandlerName, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig(printspool.HandlerName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	db := postgres.NewDB(pool)
	renderer := document.NewRenderer(
		postgres.NewPrescriptionRepo(db),
		postgres.NewPatientRepo(db),
		postgres.NewMedicineRepo(db),
		document.Organization{
			Name:     cfg.OrgName,
			Subtitle: cfg.OrgSubtitle,
			Address:  cfg.OrgAddress,
			LogoPath: cfg.LogoPath,
		},
		m, logger)

	inbox := idempotency.New(idempotency.NewPostgresStore(pool), idempotency.DefaultConfig(), logger)
	if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
		logger.Warn("inbox recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale inbox entries", zap.Int64("count", n))
	}
	inbox.StartCleanup()
	defer inbox.Stop()

	breakerCfg := circuitbreaker.DefaultConfig("document-renderer")
	breakerCfg.IsSuccessful = printspool.BreakerSuccess
	breakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.SetBreakerState(name, string(to))
	}
	breaker := circuitbreaker.New(breakerCfg, logger)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.SpoolWorkers
	spooler, err := printspool.New(printspool.Config{Dir: cfg.SpoolDir, Pool: poolCfg}, renderer, inbox, breaker, m, logger)
	if err != nil {
		return err
	}
	if err := spooler.Start(); err != nil {
		return err
	}

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.GroupID = printspool.HandlerName
	consumerCfg.Topics = []string{redpanda.TopicPrescriptionEvents}
	consumer, err := redpanda.NewConsumer(consumerCfg, spooler.Handle, logger)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	consumer.Start()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if err := redpanda.HealthCheck(r.Context(), cfg.KafkaBrokers); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"consumer": consumer.Stats(),
			"breaker": map[string]any{
				"state":  breaker.State(),
				"counts": breaker.Counts(),
			},
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("print spooler started",
		zap.String("spool_dir", cfg.SpoolDir),
		zap.Int("workers", cfg.SpoolWorkers))
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop failed", zap.Error(err))
	}
	if err := spooler.Stop(); err != nil {
		logger.Warn("spooler stop failed", zap.Error(err))
	}
	logger.Info("print spooler stopped")
	return nil
}
