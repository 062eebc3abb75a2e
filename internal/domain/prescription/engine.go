package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/identity"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/store"
)

// PatientLookup finds patients by external id.
type PatientLookup interface {
	Get(ctx context.Context, externalID string) (*patient.Patient, error)
}

// MedicineLookup finds catalog entries by external id.
type MedicineLookup interface {
	Get(ctx context.Context, externalID string) (*medicine.Medicine, error)
}

// CreateInput is the payload for a single prescription.
type CreateInput struct {
	PatientID      string `json:"pacienteId"`
	Items          []Item `json:"medicamentos"`
	IssueDate      string `json:"data"`
	ExpirationDate string `json:"dataVencimento"`
	Notes          string `json:"observacoes"`
}

// DateEntry is one candidate issue date of a batch.
type DateEntry struct {
	Date    string `json:"date"`
	Enabled bool   `json:"enabled"`
}

// BatchInput issues the same items on several dates.
type BatchInput struct {
	PatientID string      `json:"pacienteId"`
	Items     []Item      `json:"medicamentos"`
	Dates     []DateEntry `json:"datas"`
	Notes     string      `json:"observacoes"`
}

// Engine implements prescription use cases. Every mutation runs in one
// store transaction together with the events it records.
type Engine struct {
	repo      Repository
	patients  PatientLookup
	medicines MedicineLookup
	tx        store.TxRunner
	events    EventRecorder
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewEngine creates a prescription engine. events may be nil.
func NewEngine(repo Repository, patients PatientLookup, medicines MedicineLookup, tx store.TxRunner, events EventRecorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:      repo,
		patients:  patients,
		medicines: medicines,
		tx:        tx,
		events:    events,
		logger:    logger,
		tracer:    otel.Tracer("prescription-engine"),
	}
}

// Create validates and stores one prescription. Nothing is stored unless
// every item resolves.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*Prescription, error) {
	ctx, span := e.tracer.Start(ctx, "create_prescription")
	defer span.End()

	var created *Prescription
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		pat, items, err := e.resolve(ctx, in.PatientID, in.Items)
		if err != nil {
			return err
		}

		issue := civildate.Today()
		if strings.TrimSpace(in.IssueDate) != "" {
			if issue, err = civildate.Parse(in.IssueDate); err != nil {
				return errs.Validation("Data inválida")
			}
		}

		var expiration civildate.Date
		if strings.TrimSpace(in.ExpirationDate) != "" {
			if expiration, err = civildate.Parse(in.ExpirationDate); err != nil {
				return errs.Validation("Data de vencimento inválida")
			}
		}

		p := &Prescription{
			ExternalID:        identity.NewExternalID(),
			PatientID:         pat.ID,
			PatientExternalID: pat.ExternalID,
			IssueDate:         issue,
			ExpirationDate:    expiration,
			Items:             items,
			Notes:             identity.NormalizeText(in.Notes),
		}
		if err := e.insert(ctx, p, 0); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("prescription_id", created.ExternalID))
	e.logger.Info("prescription created",
		zap.String("prescription_id", created.ExternalID),
		zap.String("patient_id", created.PatientExternalID),
		zap.Int("items", len(created.Items)))
	return created, nil
}

// CreateBatch issues one prescription per enabled date. Either all of them
// are stored or none is.
func (e *Engine) CreateBatch(ctx context.Context, in BatchInput) ([]*Prescription, error) {
	ctx, span := e.tracer.Start(ctx, "create_prescription_batch")
	defer span.End()

	if len(in.Dates) == 0 {
		return nil, errs.Validation("Lista de datas é obrigatória")
	}
	var dates []string
	for _, d := range in.Dates {
		if d.Enabled {
			dates = append(dates, d.Date)
		}
	}
	if len(dates) == 0 {
		return nil, errs.Validation("Nenhuma data foi selecionada")
	}
	span.SetAttributes(attribute.Int("batch_size", len(dates)))

	var created []*Prescription
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		pat, items, err := e.resolve(ctx, in.PatientID, in.Items)
		if err != nil {
			return err
		}
		notes := identity.NormalizeText(in.Notes)

		for _, raw := range dates {
			issue, err := civildate.Parse(raw)
			if err != nil {
				return errs.Validation("Data inválida: %s", raw)
			}

			p := &Prescription{
				ExternalID:        identity.NewExternalID(),
				PatientID:         pat.ID,
				PatientExternalID: pat.ExternalID,
				IssueDate:         issue,
				Items:             append([]Item(nil), items...),
				Notes:             notes,
			}
			if err := e.insert(ctx, p, len(dates)); err != nil {
				return err
			}
			created = append(created, p)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.logger.Info("prescription batch created",
		zap.String("patient_id", created[0].PatientExternalID),
		zap.Int("count", len(created)))
	return created, nil
}

// Get returns the prescription with the given external id.
func (e *Engine) Get(ctx context.Context, externalID string) (*Prescription, error) {
	p, err := e.repo.Get(ctx, externalID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.NotFound("Receita não encontrada")
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// List returns prescriptions newest first. When patientExternalID is set only
// that patient's prescriptions are returned, and an unknown patient yields an
// empty list.
func (e *Engine) List(ctx context.Context, patientExternalID string) ([]*Prescription, error) {
	var f ListFilter
	if id := strings.TrimSpace(patientExternalID); id != "" {
		pat, err := e.patients.Get(ctx, id)
		if isNotFound(err) {
			return []*Prescription{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolve patient filter: %w", err)
		}
		f.PatientID = &pat.ID
	}

	list, err := e.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return list, nil
}

// Delete removes a prescription.
func (e *Engine) Delete(ctx context.Context, externalID string) error {
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := e.Get(ctx, externalID)
		if err != nil {
			return err
		}
		if err := e.repo.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("delete prescription: %w", err)
		}
		return e.record(ctx, p.ExternalID, EventPrescriptionDeleted, DeletedData{
			PrescriptionID: p.ExternalID,
			PatientID:      p.PatientExternalID,
			Reason:         ReasonRequested,
		})
	})
	if err != nil {
		return err
	}

	e.logger.Info("prescription deleted", zap.String("prescription_id", externalID))
	return nil
}

// DeleteForPatient removes every prescription of p. It is meant to run inside
// the caller's patient deletion transaction.
func (e *Engine) DeleteForPatient(ctx context.Context, p *patient.Patient) (int, error) {
	var ids []string
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ids, err = e.repo.DeleteByPatient(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.record(ctx, id, EventPrescriptionDeleted, DeletedData{
				PrescriptionID: id,
				PatientID:      p.ExternalID,
				Reason:         ReasonPatientDeleted,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// PurgeAll removes every prescription. Patients and the catalog are kept.
func (e *Engine) PurgeAll(ctx context.Context) (int64, error) {
	var n int64
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = e.repo.DeleteAll(ctx); err != nil {
			return fmt.Errorf("purge prescriptions: %w", err)
		}
		return e.record(ctx, "", EventPrescriptionsPurged, PurgedData{Count: n, Reason: ReasonManualPurge})
	})
	if err != nil {
		return 0, err
	}

	e.logger.Info("prescriptions purged", zap.Int64("count", n))
	return n, nil
}

// PurgeIssuedBefore removes prescriptions whose issue date is before cutoff.
func (e *Engine) PurgeIssuedBefore(ctx context.Context, cutoff civildate.Date) (int64, error) {
	var n int64
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if n, err = e.repo.DeleteIssuedBefore(ctx, cutoff); err != nil {
			return fmt.Errorf("purge prescriptions before %s: %w", cutoff, err)
		}
		if n == 0 {
			return nil
		}
		return e.record(ctx, "", EventPrescriptionsPurged, PurgedData{
			Count:        n,
			IssuedBefore: cutoff.String(),
			Reason:       ReasonRetention,
		})
	})
	if err != nil {
		return 0, err
	}

	if n > 0 {
		e.logger.Info("expired prescriptions purged",
			zap.Int64("count", n),
			zap.String("issued_before", cutoff.String()))
	}
	return n, nil
}

// resolve checks the patient and every item, returning the normalized items.
func (e *Engine) resolve(ctx context.Context, patientID string, in []Item) (*patient.Patient, []Item, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, nil, errs.Validation("Paciente é obrigatório")
	}

	pat, err := e.patients.Get(ctx, patientID)
	if isNotFound(err) {
		return nil, nil, errs.NotFound("Paciente não encontrado")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve patient: %w", err)
	}

	if len(in) == 0 {
		return nil, nil, errs.Validation("Pelo menos um medicamento é obrigatório")
	}

	items := make([]Item, len(in))
	for i, it := range in {
		items[i] = Item{
			MedicineID: strings.TrimSpace(it.MedicineID),
			Posology:   identity.NormalizeText(it.Posology),
		}
		if items[i].MedicineID == "" || items[i].Posology == "" {
			return nil, nil, errs.Validation("Item %d: medicamento e posologia são obrigatórios", i+1)
		}
	}

	for _, it := range items {
		_, err := e.medicines.Get(ctx, it.MedicineID)
		if isNotFound(err) {
			return nil, nil, errs.NotFound("Medicamento %s não encontrado", it.MedicineID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("resolve medicine %s: %w", it.MedicineID, err)
		}
	}

	return pat, items, nil
}

func (e *Engine) insert(ctx context.Context, p *Prescription, batchSize int) error {
	if err := e.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("store prescription: %w", err)
	}

	data := IssuedData{
		PrescriptionID: p.ExternalID,
		PatientID:      p.PatientExternalID,
		IssueDate:      p.IssueDate.String(),
		ItemCount:      len(p.Items),
		BatchSize:      batchSize,
	}
	if !p.ExpirationDate.IsZero() {
		data.ExpirationDate = p.ExpirationDate.String()
	}
	return e.record(ctx, p.ExternalID, EventPrescriptionIssued, data)
}

func (e *Engine) record(ctx context.Context, aggregateID string, t EventType, data interface{}) error {
	if e.events == nil {
		return nil
	}
	ev, err := NewEvent(aggregateID, t, data)
	if err != nil {
		return fmt.Errorf("build %s event: %w", t, err)
	}
	if err := e.events.Record(ctx, ev); err != nil {
		return fmt.Errorf("record %s event: %w", t, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, errs.ErrNotFound)
}
