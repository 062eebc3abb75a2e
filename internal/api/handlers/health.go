package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/store"
)

// Health serves liveness and readiness probes.
type Health struct {
	service string
	store   store.Pinger
	logger  *zap.Logger
}

// NewHealth creates the probe handlers.
func NewHealth(service string, pinger store.Pinger, logger *zap.Logger) *Health {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Health{service: service, store: pinger, logger: logger}
}

// Live always reports healthy.
func (h *Health) Live(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "healthy", "service": h.service})
}

// Ready reports whether the store answers.
func (h *Health) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		msg := "Banco de dados indisponível"
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: &msg})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
