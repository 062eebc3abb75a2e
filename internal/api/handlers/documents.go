package handlers

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/document"
)

// DocumentHandler serves rendered prescription documents.
type DocumentHandler struct {
	renderer *document.Renderer
	logger   *zap.Logger
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(renderer *document.Renderer, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{renderer: renderer, logger: logger}
}

// Routes returns the document routes.
func (h *DocumentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/prescription/{id}", h.Prescription)
	return r
}

// Prescription handles GET /api/pdf/prescription/{id}.
func (h *DocumentHandler) Prescription(w http.ResponseWriter, r *http.Request) {
	doc, err := h.renderer.Render(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Content); err != nil {
		h.logger.Warn("failed to write document", zap.String("prescription_id", doc.PrescriptionID), zap.Error(err))
	}
}
