package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/medicine"
)

// MedicineHandler serves /api/medicines.
type MedicineHandler struct {
	svc    *medicine.Service
	logger *zap.Logger
}

// NewMedicineHandler creates a catalog handler.
func NewMedicineHandler(svc *medicine.Service, logger *zap.Logger) *MedicineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicineHandler{svc: svc, logger: logger}
}

// Routes returns the catalog routes.
func (h *MedicineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/search", h.Search)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	return r
}

func (h *MedicineHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *MedicineHandler) Search(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, list)
}

func (h *MedicineHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func (h *MedicineHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in medicine.CreateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.svc.Create(r.Context(), in)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func (h *MedicineHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in medicine.UpdateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	m, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, m)
}

func (h *MedicineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	respond(w, http.StatusOK, Message{Message: "Medicamento excluído com sucesso"})
}
