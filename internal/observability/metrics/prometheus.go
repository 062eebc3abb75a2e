// Package metrics exposes Prometheus metrics for the clinic services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sismed"

// Metrics holds every collector. All methods are safe on a nil receiver so
// components can run without metrics.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	HTTPInFlight        prometheus.Gauge
	PrescriptionsIssued prometheus.Counter
	PrescriptionsDelete *prometheus.CounterVec
	BatchSize           prometheus.Histogram
	DocumentsRendered   prometheus.Counter
	RenderDuration      prometheus.Histogram
	DroppedItems        prometheus.Counter
	OutboxPending       prometheus.Gauge
	SpoolEvents         *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry, which keeps tests independent of the global one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route", "method"}),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests being served",
		}),
		PrescriptionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prescriptions_issued_total",
			Help:      "Prescriptions created, single or batch",
		}),
		PrescriptionsDelete: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prescriptions_deleted_total",
			Help:      "Prescriptions removed by reason",
		}, []string{"reason"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prescription_batch_size",
			Help:      "Prescriptions created per batch request",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}),
		DocumentsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_rendered_total",
			Help:      "Prescription documents rendered",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_render_duration_seconds",
			Help:      "Time to load and render one document",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		DroppedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_dropped_items_total",
			Help:      "Items left out of documents because their medicine no longer exists",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_entries",
			Help:      "Outbox entries waiting to be published",
		}),
		SpoolEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spool_events_total",
			Help:      "Events handled by the print spooler by outcome",
		}, []string{"outcome"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPInFlight,
		m.PrescriptionsIssued,
		m.PrescriptionsDelete,
		m.BatchSize,
		m.DocumentsRendered,
		m.RenderDuration,
		m.DroppedItems,
		m.OutboxPending,
		m.SpoolEvents,
		m.CircuitBreakerState,
	)
	return m
}

// NewRegistry returns a registry with the Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// PrescriptionsCreated counts n new prescriptions. Batches also feed the
// batch size histogram.
func (m *Metrics) PrescriptionsCreated(n int, batch bool) {
	if m == nil {
		return
	}
	m.PrescriptionsIssued.Add(float64(n))
	if batch {
		m.BatchSize.Observe(float64(n))
	}
}

// PrescriptionsDeleted counts n removals for reason.
func (m *Metrics) PrescriptionsDeleted(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PrescriptionsDelete.WithLabelValues(reason).Add(float64(n))
}

// DocumentRendered records one rendered document.
func (m *Metrics) DocumentRendered(elapsed time.Duration, dropped int) {
	if m == nil {
		return
	}
	m.DocumentsRendered.Inc()
	m.RenderDuration.Observe(elapsed.Seconds())
	m.DroppedItems.Add(float64(dropped))
}

// SetOutboxPending reports the outbox backlog.
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// SpoolEvent counts a spooler outcome such as printed, skipped or failed.
func (m *Metrics) SpoolEvent(outcome string) {
	if m == nil {
		return
	}
	m.SpoolEvents.WithLabelValues(outcome).Inc()
}

// SetBreakerState records a breaker transition. state is closed, open or
// half-open.
func (m *Metrics) SetBreakerState(name, state string) {
	if m == nil {
		return
	}
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}
