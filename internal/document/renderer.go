package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
)

// PrescriptionSource loads prescriptions. Missing ones must be reported as
// errs.ErrNotFound.
type PrescriptionSource interface {
	Get(ctx context.Context, externalID string) (*prescription.Prescription, error)
}

// PatientSource loads patients by external id.
type PatientSource interface {
	Get(ctx context.Context, externalID string) (*patient.Patient, error)
}

// MedicineSource loads catalog entries by external id.
type MedicineSource interface {
	Get(ctx context.Context, externalID string) (*medicine.Medicine, error)
}

// Observer is told about every rendered document.
type Observer interface {
	DocumentRendered(elapsed time.Duration, dropped int)
}

// Document is a rendered prescription.
type Document struct {
	PrescriptionID string
	Filename       string
	Content        []byte
}

// Renderer loads a prescription with its patient and catalog entries and
// produces the PDF.
type Renderer struct {
	prescriptions PrescriptionSource
	patients      PatientSource
	medicines     MedicineSource
	org           Organization
	observer      Observer
	logger        *zap.Logger
	tracer        trace.Tracer
}

// NewRenderer creates a renderer. observer and logger may be nil.
func NewRenderer(prescriptions PrescriptionSource, patients PatientSource, medicines MedicineSource, org Organization, observer Observer, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		prescriptions: prescriptions,
		patients:      patients,
		medicines:     medicines,
		org:           org,
		observer:      observer,
		logger:        logger,
		tracer:        otel.Tracer("document-renderer"),
	}
}

// Render produces the document for a prescription. Items whose medicine was
// removed from the catalog are left out without error.
func (r *Renderer) Render(ctx context.Context, prescriptionID string) (*Document, error) {
	ctx, span := r.tracer.Start(ctx, "render_prescription",
		trace.WithAttributes(attribute.String("prescription_id", prescriptionID)))
	defer span.End()
	start := time.Now()

	sheet, err := r.load(ctx, prescriptionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	layout := Build(r.org, sheet)

	var buf bytes.Buffer
	if err := WritePDF(&buf, layout); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if len(layout.Dropped) > 0 {
		r.logger.Warn("prescription references removed medicines",
			zap.String("prescription_id", prescriptionID),
			zap.Strings("medicine_ids", layout.Dropped))
	}
	span.SetAttributes(
		attribute.Int("items_rendered", len(layout.ListItems())),
		attribute.Int("items_dropped", len(layout.Dropped)),
	)
	if r.observer != nil {
		r.observer.DocumentRendered(time.Since(start), len(layout.Dropped))
	}

	return &Document{
		PrescriptionID: prescriptionID,
		Filename:       Filename(sheet.Patient.Name, sheet.Prescription.IssueDate),
		Content:        buf.Bytes(),
	}, nil
}

func (r *Renderer) load(ctx context.Context, prescriptionID string) (Sheet, error) {
	rx, err := r.prescriptions.Get(ctx, prescriptionID)
	if err != nil {
		return Sheet{}, err
	}

	pat, err := r.patients.Get(ctx, rx.PatientExternalID)
	if errors.Is(err, errs.ErrNotFound) {
		return Sheet{}, errs.NotFound("Paciente não encontrado")
	}
	if err != nil {
		return Sheet{}, fmt.Errorf("load patient: %w", err)
	}

	meds := make(map[string]*medicine.Medicine, len(rx.Items))
	for _, it := range rx.Items {
		if _, seen := meds[it.MedicineID]; seen {
			continue
		}
		m, err := r.medicines.Get(ctx, it.MedicineID)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("load medicine %s: %w", it.MedicineID, err)
		}
		meds[it.MedicineID] = m
	}

	return Sheet{Prescription: rx, Patient: pat, Medicines: meds}, nil
}
