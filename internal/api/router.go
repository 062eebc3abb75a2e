// Package api assembles the HTTP surface of the clinic backend.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/api/handlers"
	"github.com/perobal/sismed/internal/api/middleware"
	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/domain/store"
	"github.com/perobal/sismed/internal/observability/metrics"
)

// ServiceName labels logs, spans and the health payload.
const ServiceName = "sismed-api"

// Dependencies are the collaborators the router wires into handlers.
type Dependencies struct {
	Patients      *patient.Service
	Medicines     *medicine.Service
	Prescriptions *prescription.Engine
	Renderer      *document.Renderer
	Store         store.Pinger

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Limiter  *middleware.RateLimiter
	Logger   *zap.Logger

	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter returns the API handler.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.CORS(deps.CORSOrigins))
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Handler)
	}
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	health := handlers.NewHealth(ServiceName, deps.Store, logger)
	r.Get("/health", health.Live)
	r.Get("/ready", health.Ready)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Mount("/patients", handlers.NewPatientHandler(deps.Patients, deps.Metrics, logger).Routes())
		r.Mount("/medicines", handlers.NewMedicineHandler(deps.Medicines, logger).Routes())
		r.Mount("/prescriptions", handlers.NewPrescriptionHandler(deps.Prescriptions, deps.Metrics, logger).Routes())
		r.Mount("/pdf", handlers.NewDocumentHandler(deps.Renderer, logger).Routes())
	})

	return r
}
