// Package maintenance runs scheduled housekeeping for the API process.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/prescription"
)

// Purger deletes prescriptions issued before a cutoff date.
type Purger interface {
	PurgeIssuedBefore(ctx context.Context, cutoff civildate.Date) (int64, error)
}

// Observer receives purge counts.
type Observer interface {
	PrescriptionsDeleted(reason string, n int64)
}

// RetentionConfig controls the daily purge.
type RetentionConfig struct {
	// Days is the retention window. Zero disables the job.
	Days int
	// At is the local wall-clock time of the run, "HH:MM".
	At      string
	Timeout time.Duration
}

// Retention purges prescriptions older than the retention window once a
// day.
type Retention struct {
	cfg       RetentionConfig
	purger    Purger
	observer  Observer
	logger    *zap.Logger
	scheduler *gocron.Scheduler
	today     func() civildate.Date
}

// NewRetention creates the purge job. It does nothing until Start.
func NewRetention(cfg RetentionConfig, purger Purger, observer Observer, logger *zap.Logger) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	s := gocron.NewScheduler(time.Local)
	s.SingletonModeAll()

	return &Retention{
		cfg:       cfg,
		purger:    purger,
		observer:  observer,
		logger:    logger,
		scheduler: s,
		today:     civildate.Today,
	}
}

// Enabled reports whether a retention window is configured.
func (r *Retention) Enabled() bool {
	return r.cfg.Days > 0
}

// Start schedules the daily run. It is a no-op when retention is disabled.
func (r *Retention) Start() error {
	if !r.Enabled() {
		r.logger.Info("prescription retention disabled")
		return nil
	}

	_, err := r.scheduler.Every(1).Day().At(r.cfg.At).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("retention purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention purge at %q: %w", r.cfg.At, err)
	}

	r.scheduler.StartAsync()
	r.logger.Info("prescription retention scheduled",
		zap.Int("days", r.cfg.Days),
		zap.String("at", r.cfg.At))
	return nil
}

// Stop halts the scheduler and waits for a running purge.
func (r *Retention) Stop() {
	r.scheduler.Stop()
}

// Cutoff is the first issue date that is kept.
func (r *Retention) Cutoff() civildate.Date {
	return r.today().AddDays(-r.cfg.Days)
}

// Run performs one purge immediately.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	if !r.Enabled() {
		return 0, nil
	}

	cutoff := r.Cutoff()
	n, err := r.purger.PurgeIssuedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if r.observer != nil && n > 0 {
		r.observer.PrescriptionsDeleted(prescription.ReasonRetention, n)
	}
	r.logger.Info("retention purge finished",
		zap.String("cutoff", cutoff.String()),
		zap.Int64("removed", n))
	return n, nil
}
