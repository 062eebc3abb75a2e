// Package main provides the outbox relay service entry point.
// Publishes prescription lifecycle events recorded in the outbox table.
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
	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/config"
	"github.com/perobal/sismed/internal/infrastructure/postgres"
	"github.com/perobal/sismed/internal/infrastructure/redpanda"
	"github.com/perobal/sismed/internal/observability/logging"
	"github.com/perobal/sismed/internal/observability/metrics"
	"github.com/perobal/sismed/internal/observability/tracing"
	"github.com/perobal/sismed/pkg/circuitbreaker"
)

const serviceName = "outbox-relay"

// processedRetention is how long delivered entries stay in the table.
const processedRetention = 7 * 24 * time.Hour

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

	logger, err := logging.New(serviceName, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig(serviceName)
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
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	breakerCfg := circuitbreaker.DefaultConfig("redpanda-producer")
	breakerCfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.SetBreakerState(name, string(to))
	}
	breaker := circuitbreaker.New(breakerCfg, logger)
	m.SetBreakerState(breaker.Name(), string(breaker.State()))

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outboxCfg.Unavailable = func(err error) bool {
		return errors.Is(err, circuitbreaker.ErrOpen)
	}
	db := postgres.NewDB(pool)
	outbox := postgres.NewOutbox(db, circuitbreaker.GuardPublisher(producer, breaker), outboxCfg, logger)
	outbox.OnPending = m.SetOutboxPending

	cleanup := gocron.NewScheduler(time.UTC)
	if _, err := cleanup.Every(1).Hour().Do(func() {
		n, err := outbox.CleanupProcessed(ctx, processedRetention)
		if err != nil {
			logger.Error("outbox cleanup failed", zap.Error(err))
			return
		}
		logger.Info("outbox cleanup finished", zap.Int64("removed", n))
	}); err != nil {
		return fmt.Errorf("schedule outbox cleanup: %w", err)
	}

	outbox.Start()
	cleanup.StartAsync()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if breaker.State() == circuitbreaker.StateOpen {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if err := producer.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		pending, err := outbox.GetStats(r.Context())
		if err != nil {
			logger.Error("read outbox stats", zap.Error(err))
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outbox":   pending,
			"producer": producer.Stats(),
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

	logger.Info("outbox relay started", zap.String("addr", server.Addr))
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	cleanup.Stop()
	outbox.Stop()
	logger.Info("outbox relay stopped")
	return nil
}
