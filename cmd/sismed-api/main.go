// Package main provides the clinic API service entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/api"
	"github.com/perobal/sismed/internal/api/middleware"
	"github.com/perobal/sismed/internal/config"
	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/postgres"
	"github.com/perobal/sismed/internal/infrastructure/redpanda"
	"github.com/perobal/sismed/internal/maintenance"
	"github.com/perobal/sismed/internal/observability/logging"
	"github.com/perobal/sismed/internal/observability/metrics"
	"github.com/perobal/sismed/internal/observability/tracing"
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

	logger, err := logging.New(api.ServiceName, cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := tracing.DefaultConfig(api.ServiceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	applied, err := postgres.NewMigrator(pool, logger).Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("schema up to date", zap.Int("applied", applied))

	db := postgres.NewDB(pool)
	patientRepo := postgres.NewPatientRepo(db)
	medicineRepo := postgres.NewMedicineRepo(db)
	events := postgres.NewOutboxWriter(db, redpanda.TopicPrescriptionEvents)

	engine := prescription.NewEngine(postgres.NewPrescriptionRepo(db), patientRepo, medicineRepo, db, events, logger)
	patients := patient.NewService(patientRepo, db, engine, logger)
	catalog := medicine.NewService(medicineRepo, db, logger)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	org := document.Organization{
		Name:     cfg.OrgName,
		Subtitle: cfg.OrgSubtitle,
		Address:  cfg.OrgAddress,
		LogoPath: cfg.LogoPath,
	}
	renderer := document.NewRenderer(engine, patients, catalog, org, m, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx, 5*time.Minute)

	router := api.NewRouter(api.Dependencies{
		Patients:       patients,
		Medicines:      catalog,
		Prescriptions:  engine,
		Renderer:       renderer,
		Store:          db,
		Metrics:        m,
		Gatherer:       reg,
		Limiter:        limiter,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	retention := maintenance.NewRetention(maintenance.RetentionConfig{
		Days: cfg.RetentionDays,
		At:   cfg.PurgeAt,
	}, engine, m, logger)
	if err := retention.Start(); err != nil {
		return err
	}
	defer retention.Stop()

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
