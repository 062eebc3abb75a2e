package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PrescriptionsCreated(1, false)
	m.PrescriptionsCreated(3, true)
	m.PrescriptionsDeleted("requested", 1)
	m.PrescriptionsDeleted("retention", 0)
	m.DocumentRendered(20*time.Millisecond, 2)
	m.SetOutboxPending(7)
	m.SetBreakerState("renderer", "half-open")
	m.SpoolEvent("printed")

	assert.Equal(t, 4.0, testutil.ToFloat64(m.PrescriptionsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PrescriptionsDelete.WithLabelValues("requested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsRendered))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DroppedItems))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.OutboxPending))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("renderer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpoolEvents.WithLabelValues("printed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BatchSize))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.PrescriptionsCreated(1, true)
	m.DocumentRendered(time.Second, 1)
	m.ObserveRequest("/", "GET", "200", time.Millisecond)
	m.SetBreakerState("x", "open")
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ObserveRequest("/api/patients/{id}", http.MethodGet, "404", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `sismed_http_requests_total{method="GET",route="/api/patients/{id}",status="404"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
