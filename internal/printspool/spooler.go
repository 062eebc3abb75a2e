// Package printspool renders issued prescriptions into the directory the
// clinic printer watches.
package printspool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/redpanda"
	"github.com/perobal/sismed/pkg/circuitbreaker"
	"github.com/perobal/sismed/pkg/idempotency"
	"github.com/perobal/sismed/pkg/workerpool"
)

// HandlerName identifies the spooler in the idempotency inbox.
const HandlerName = "print-spooler"

// Outcomes reported to the Observer.
const (
	OutcomeSpooled   = "spooled"
	OutcomeDuplicate = "duplicate"
	OutcomeSkipped   = "skipped"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// Renderer produces the document of a prescription.
type Renderer interface {
	Render(ctx context.Context, prescriptionID string) (*document.Document, error)
}

// Observer receives one outcome per handled event.
type Observer interface {
	SpoolEvent(outcome string)
}

// Config holds spooler settings.
type Config struct {
	Dir  string
	Pool workerpool.Config
}

// Spooled is the inbox output of a spooled prescription.
type Spooled struct {
	PrescriptionID string `json:"prescription_id"`
	File           string `json:"file"`
}

// Spooler handles prescription events from the broker.
type Spooler struct {
	dir      string
	renderer Renderer
	inbox    *idempotency.Inbox
	breaker  *circuitbreaker.CircuitBreaker
	pool     *workerpool.Pool
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a spooler. Renders run on a bounded worker pool behind the
// breaker.
func New(cfg Config, renderer Renderer, inbox *idempotency.Inbox, breaker *circuitbreaker.CircuitBreaker, observer Observer, logger *zap.Logger) (*Spooler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		return nil, errors.New("spool directory is required")
	}

	s := &Spooler{
		dir:      cfg.Dir,
		renderer: renderer,
		inbox:    inbox,
		breaker:  breaker,
		observer: observer,
		logger:   logger,
		tracer:   otel.Tracer("print-spooler"),
	}

	poolCfg := cfg.Pool
	if poolCfg.Retryable == nil {
		poolCfg.Retryable = retryable
	}
	pool, err := workerpool.New(poolCfg, s.work, logger)
	if err != nil {
		return nil, fmt.Errorf("create render pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Start prepares the spool directory and launches the workers.
func (s *Spooler) Start() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spool directory: %w", err)
	}
	s.pool.Start()
	return nil
}

// Stop waits for in-flight renders.
func (s *Spooler) Stop() error {
	return s.pool.Stop()
}

// Handle processes one consumed record. A nil return acknowledges it.
func (s *Spooler) Handle(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	var event prescription.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.ID == "" {
		s.logger.Warn("dropping malformed event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		s.report(OutcomeMalformed)
		return nil
	}
	if event.EventType != prescription.EventPrescriptionIssued {
		s.report(OutcomeIgnored)
		return nil
	}

	var issued prescription.IssuedData
	if err := json.Unmarshal(event.EventData, &issued); err != nil || issued.PrescriptionID == "" {
		s.logger.Warn("dropping issued event without prescription",
			zap.String("event_id", event.ID),
			zap.Error(err))
		s.report(OutcomeMalformed)
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "spool_prescription",
		trace.WithAttributes(
			attribute.String("event_id", event.ID),
			attribute.String("prescription_id", issued.PrescriptionID),
		))
	defer span.End()

	key := idempotency.Key(HandlerName, event.ID)
	res, err := s.inbox.Process(ctx, key, HandlerName, msg.Value, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		file, err := s.spool(ctx, issued.PrescriptionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(Spooled{PrescriptionID: issued.PrescriptionID, File: file})
	})

	switch {
	case err == nil && res.Duplicate:
		s.report(OutcomeDuplicate)
		return nil
	case err == nil:
		s.report(OutcomeSpooled)
		return nil
	case idempotency.IsTerminal(err), errors.Is(err, idempotency.ErrPreviouslyFailed):
		s.logger.Info("skipping prescription",
			zap.String("event_id", event.ID),
			zap.String("prescription_id", issued.PrescriptionID),
			zap.Error(err))
		s.report(OutcomeSkipped)
		return nil
	default:
		span.RecordError(err)
		s.report(OutcomeFailed)
		return err
	}
}

// spool renders on the pool and returns the written file name. A
// prescription deleted since the event was issued is a terminal failure.
func (s *Spooler) spool(ctx context.Context, prescriptionID string) (string, error) {
	res, err := s.pool.SubmitWait(ctx, &workerpool.Task{
		ID:      prescriptionID,
		Payload: prescriptionID,
		Context: ctx,
	})
	if err != nil {
		return "", err
	}
	if !res.Success {
		if errors.Is(res.Error, errs.ErrNotFound) {
			return "", idempotency.Terminal(res.Error)
		}
		return "", res.Error
	}
	return res.Data.(string), nil
}

func (s *Spooler) work(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	id, _ := task.Payload.(string)

	var doc *document.Document
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.renderer.Render(ctx, id)
		return err
	})
	if err != nil {
		return &workerpool.Result{Error: err}
	}

	file, err := s.write(doc)
	if err != nil {
		return &workerpool.Result{Error: err}
	}
	s.logger.Info("prescription spooled",
		zap.String("prescription_id", id),
		zap.String("file", file))
	return &workerpool.Result{Success: true, Data: file}
}

// write stores the document under a name unique per prescription. The file
// appears in the directory only once complete.
func (s *Spooler) write(doc *document.Document) (string, error) {
	name := fmt.Sprintf("%s_%s.pdf", strings.TrimSuffix(doc.Filename, ".pdf"), doc.PrescriptionID)

	tmp, err := os.CreateTemp(s.dir, ".spool-*")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc.Content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close spool file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("publish spool file: %w", err)
	}
	return name, nil
}

func (s *Spooler) report(outcome string) {
	if s.observer != nil {
		s.observer.SpoolEvent(outcome)
	}
}

// retryable keeps the pool from retrying renders that cannot succeed.
func retryable(err error) bool {
	return !errors.Is(err, errs.ErrNotFound) &&
		!errors.Is(err, circuitbreaker.ErrOpen) &&
		!errors.Is(err, context.Canceled)
}

// BreakerSuccess keeps missing prescriptions from tripping the render
// breaker.
func BreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, errs.ErrNotFound) || errors.Is(err, context.Canceled)
}
