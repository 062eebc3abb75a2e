package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/observability/metrics"
)

// PatientHandler serves /api/patients.
type PatientHandler struct {
	svc     *patient.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPatientHandler creates a patient handler.
func NewPatientHandler(svc *patient.Service, m *metrics.Metrics, logger *zap.Logger) *PatientHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatientHandler{svc: svc, metrics: m, logger: logger}
}

// Routes returns the patient routes.
func (h *PatientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/search", h.Search)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

func (h *PatientHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *PatientHandler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in patient.CreateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	p, err := h.svc.Create(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *PatientHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in patient.UpdateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	p, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, p)
}

func (h *PatientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	h.metrics.PrescriptionsDeleted(prescription.ReasonPatientDeleted, int64(removed))
	respond(w, http.StatusOK, Message{Message: "Paciente excluído com sucesso"})
}
