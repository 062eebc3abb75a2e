package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/observability/metrics"
)

// PrescriptionHandler serves /api/prescriptions.
type PrescriptionHandler struct {
	engine  *prescription.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPrescriptionHandler creates a prescription handler.
func NewPrescriptionHandler(engine *prescription.Engine, m *metrics.Metrics, logger *zap.Logger) *PrescriptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{engine: engine, metrics: m, logger: logger}
}

// Routes returns the prescription routes.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/multiple", h.CreateBatch)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

// List handles GET /api/prescriptions?patient_id=.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.List(r.Context(), r.URL.Query().Get("patient_id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in prescription.CreateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	p, err := h.engine.Create(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.metrics.PrescriptionsCreated(1, false)
	respond(w, http.StatusOK, p)
}

// CreateBatch handles POST /api/prescriptions/multiple. Either every
// enabled date gets a prescription or none does.
func (h *PrescriptionHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var in prescription.BatchInput
	if err := decode(r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}

	created, err := h.engine.CreateBatch(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int("batch_size", len(created)))
	h.metrics.PrescriptionsCreated(len(created), true)

	writeJSON(w, http.StatusOK, envelope{
		Data:    created,
		Message: fmt.Sprintf("Criadas %d receitas com sucesso", len(created)),
	})
}

func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.metrics.PrescriptionsDeleted(prescription.ReasonRequested, 1)
	respond(w, http.StatusOK, Message{Message: "Receita excluída com sucesso"})
}
