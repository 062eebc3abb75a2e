// Package main provides the operator CLI: schema migrations, catalog
// seeding, prescription purges and topic provisioning.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/config"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/postgres"
	"github.com/perobal/sismed/internal/infrastructure/redpanda"
	"github.com/perobal/sismed/internal/observability/logging"
)

func main() {
	if err := newRootCmd(openPostgres, os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// openPostgres builds the runtime against the configured database and
// brokers.
func openPostgres(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}

	logger, err := logging.New("sismed-admin", cfg.LogLevel, cfg.IsDev())
	if err != nil {
		return nil, err
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, 2, 1)
	if err != nil {
		return nil, err
	}

	db := postgres.NewDB(pool)
	patientRepo := postgres.NewPatientRepo(db)
	medicineRepo := postgres.NewMedicineRepo(db)
	events := postgres.NewOutboxWriter(db, redpanda.TopicPrescriptionEvents)
	engine := prescription.NewEngine(postgres.NewPrescriptionRepo(db), patientRepo, medicineRepo, db, events, logger)

	return &runtime{
		logger:   logger,
		migrator: postgres.NewMigrator(pool, logger),
		catalog:  medicine.NewService(medicineRepo, db, logger),
		engine:   engine,
		topics: func() (topicAdmin, error) {
			return redpanda.NewAdmin(cfg.KafkaBrokers, logger)
		},
		close: func() {
			pool.Close()
			_ = logger.Sync()
		},
	}, nil
}

func must(logger *zap.Logger, err error, msg string) error {
	if err != nil {
		logger.Error(msg, zap.Error(err))
		return fmt.Errorf("%s: %w", msg, err)
	}
	return nil
}
