package api_test

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perobal/sismed/internal/api"
	"github.com/perobal/sismed/internal/api/middleware"
	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/memory"
	"github.com/perobal/sismed/internal/observability/metrics"
)

type response struct {
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Message string          `json:"message"`
}

type fixture struct {
	store   *memory.Store
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := memory.New()
	engine := prescription.NewEngine(s.Prescriptions(), s.Patients(), s.Medicines(), s, s, nil)
	patients := patient.NewService(s.Patients(), s, engine, nil)
	catalog := medicine.NewService(s.Medicines(), s, nil)
	reg := metrics.NewRegistry()

	h := api.NewRouter(api.Dependencies{
		Patients:      patients,
		Medicines:     catalog,
		Prescriptions: engine,
		Renderer:      document.NewRenderer(engine, patients, catalog, document.DefaultOrganization(), nil, nil),
		Store:         s,
		Metrics:       metrics.New(reg),
		Gatherer:      reg,
		CORSOrigins:   []string{"http://localhost:3000"},
	})
	return &fixture{store: s, handler: h}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (f *fixture) createPatient(t *testing.T, name string) string {
	t.Helper()
	rec, resp := f.do(t, http.MethodPost, "/api/patients", map[string]string{"nome": name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &p))
	return p.ID
}

func (f *fixture) createMedicine(t *testing.T, name, strength, form string) string {
	t.Helper()
	rec, resp := f.do(t, http.MethodPost, "/api/medicines", map[string]string{
		"nome": name, "dosagem": strength, "apresentacao": form,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var m struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &m))
	return m.ID
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), "healthy")

	rec, resp = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), "ready")
}

func TestPatientLifecycle(t *testing.T) {
	f := newFixture(t)

	id := f.createPatient(t, "  joão   da silva ")

	rec, resp := f.do(t, http.MethodGet, "/api/patients/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Error)
	assert.Contains(t, string(resp.Data), `"nome":"JOÃO DA SILVA"`)

	rec, resp = f.do(t, http.MethodGet, "/api/patients/search?q=silva", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), id)

	_, resp = f.do(t, http.MethodGet, "/api/patients/search?q=", nil)
	assert.JSONEq(t, `[]`, string(resp.Data))

	rec, resp = f.do(t, http.MethodPut, "/api/patients/"+id, map[string]any{"cpf": "123.456.789-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(resp.Data), `"nome":"JOÃO DA SILVA"`)
	assert.Contains(t, string(resp.Data), `"cpf":"123.456.789-01"`)

	rec, resp = f.do(t, http.MethodDelete, "/api/patients/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Paciente excluído com sucesso"}`, string(resp.Data))

	rec, resp = f.do(t, http.MethodGet, "/api/patients/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Paciente não encontrado", *resp.Error)
	assert.Equal(t, "null", string(resp.Data))
}

func TestCreatePatientValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", ``, "Corpo da requisição vazio"},
		{"malformed", `{"nome":`, "JSON inválido"},
		{"blank name", `{"nome":"   "}`, "Nome é obrigatório"},
		{"bad birth date", `{"nome":"ana","dataNascimento":"31/02/2020"}`, "Data de nascimento inválida"},
		{"year one birth date", `{"nome":"ana","dataNascimento":"0001-01-01"}`, "Data de nascimento inválida"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.want, *resp.Error)
		})
	}
}

func TestMedicineDuplicate(t *testing.T) {
	f := newFixture(t)

	f.createMedicine(t, "Biperideno", "2mg", "comprimido")

	rec, resp := f.do(t, http.MethodPost, "/api/medicines", map[string]string{
		"nome": "biperideno", "dosagem": "2MG", "apresentacao": "Comprimido",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
}

func TestPrescriptionFlow(t *testing.T) {
	f := newFixture(t)

	patientID := f.createPatient(t, "maria souza")
	medID := f.createMedicine(t, "Haloperidol", "5mg", "comprimido")

	rec, resp := f.do(t, http.MethodPost, "/api/prescriptions", map[string]any{
		"pacienteId":   patientID,
		"data":         "2024-03-01",
		"medicamentos": []map[string]string{{"medicamentoId": medID, "posologia": "1 comprimido à noite"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rx struct {
		ID        string `json:"id"`
		PatientID string `json:"pacienteId"`
		Data      string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &rx))
	assert.Equal(t, patientID, rx.PatientID)
	assert.Equal(t, "2024-03-01", rx.Data)

	rec, resp = f.do(t, http.MethodGet, "/api/prescriptions?patient_id="+patientID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(resp.Data), rx.ID)

	pdf := httptest.NewRecorder()
	f.handler.ServeHTTP(pdf, httptest.NewRequest(http.MethodGet, "/api/pdf/prescription/"+rx.ID, nil))
	require.Equal(t, http.StatusOK, pdf.Code)
	assert.Equal(t, "application/pdf", pdf.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=receita_MARIA_SOUZA_20240301.pdf`, pdf.Header().Get("Content-Disposition"))
	assert.True(t, bytes.HasPrefix(pdf.Body.Bytes(), []byte("%PDF-")))

	rec, resp = f.do(t, http.MethodDelete, "/api/prescriptions/"+rx.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Receita excluída com sucesso"}`, string(resp.Data))

	rec, _ = f.do(t, http.MethodGet, "/api/pdf/prescription/"+rx.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	events := f.store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, prescription.EventPrescriptionIssued, events[0].EventType)
	assert.Equal(t, prescription.EventPrescriptionDeleted, events[1].EventType)
}

func TestPDFFilenameKeepsAccents(t *testing.T) {
	f := newFixture(t)

	patientID := f.createPatient(t, "josé da silva")
	medID := f.createMedicine(t, "Clozapina", "100mg", "comprimido")
	rec, resp := f.do(t, http.MethodPost, "/api/prescriptions", map[string]any{
		"pacienteId":   patientID,
		"data":         "2024-03-01",
		"medicamentos": []map[string]string{{"medicamentoId": medID, "posologia": "1x"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rx struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &rx))

	pdf := httptest.NewRecorder()
	f.handler.ServeHTTP(pdf, httptest.NewRequest(http.MethodGet, "/api/pdf/prescription/"+rx.ID, nil))
	require.Equal(t, http.StatusOK, pdf.Code)

	header := pdf.Header().Get("Content-Disposition")
	assert.Contains(t, header, "filename*=utf-8''")
	disposition, params, err := mime.ParseMediaType(header)
	require.NoError(t, err)
	assert.Equal(t, "attachment", disposition)
	assert.Equal(t, "receita_JOSÉ_DA_SILVA_20240301.pdf", params["filename"])
}

func TestPrescriptionRejectsYearOne(t *testing.T) {
	f := newFixture(t)
	patientID := f.createPatient(t, "ana")
	medID := f.createMedicine(t, "Haloperidol", "5mg", "comprimido")

	rec, resp := f.do(t, http.MethodPost, "/api/prescriptions", map[string]any{
		"pacienteId":   patientID,
		"data":         "0001-01-01",
		"medicamentos": []map[string]string{{"medicamentoId": medID, "posologia": "1x"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Data inválida", *resp.Error)
	assert.Empty(t, f.store.Events())
}

func TestPrescriptionUnknownPatient(t *testing.T) {
	f := newFixture(t)
	medID := f.createMedicine(t, "Haloperidol", "5mg", "comprimido")

	rec, resp := f.do(t, http.MethodPost, "/api/prescriptions", map[string]any{
		"pacienteId":   "missing",
		"data":         "2024-03-01",
		"medicamentos": []map[string]string{{"medicamentoId": medID, "posologia": "1x"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Paciente não encontrado", *resp.Error)
}

func TestBatchCreation(t *testing.T) {
	f := newFixture(t)

	patientID := f.createPatient(t, "carlos lima")
	medID := f.createMedicine(t, "Carbamazepina", "200mg", "comprimido")
	items := []map[string]string{{"medicamentoId": medID, "posologia": "2x ao dia"}}

	rec, resp := f.do(t, http.MethodPost, "/api/prescriptions/multiple", map[string]any{
		"pacienteId":   patientID,
		"medicamentos": items,
		"datas": []map[string]any{
			{"date": "2024-01-10", "enabled": true},
			{"date": "2024-02-10", "enabled": false},
			{"date": "2024-03-10", "enabled": true},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Criadas 2 receitas com sucesso", resp.Message)

	var created []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Len(t, created, 2)

	rec, resp = f.do(t, http.MethodPost, "/api/prescriptions/multiple", map[string]any{
		"pacienteId":   patientID,
		"medicamentos": items,
		"datas": []map[string]any{
			{"date": "2024-04-10", "enabled": true},
			{"date": "not-a-date", "enabled": true},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Data inválida: not-a-date", *resp.Error)

	_, resp = f.do(t, http.MethodGet, "/api/prescriptions?patient_id="+patientID, nil)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &listed))
	assert.Len(t, listed, 2, "failed batch must not leave partial writes")

	rec, resp = f.do(t, http.MethodPost, "/api/prescriptions/multiple", map[string]any{
		"pacienteId":   patientID,
		"medicamentos": items,
		"datas":        []map[string]any{{"date": "2024-04-10", "enabled": false}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Nenhuma data foi selecionada", *resp.Error)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createPatient(t, "ana")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sismed_http_requests_total")
}

func TestRateLimitedRouter(t *testing.T) {
	s := memory.New()
	engine := prescription.NewEngine(s.Prescriptions(), s.Patients(), s.Medicines(), s, s, nil)

	h := api.NewRouter(api.Dependencies{
		Patients:      patient.NewService(s.Patients(), s, engine, nil),
		Medicines:     medicine.NewService(s.Medicines(), s, nil),
		Prescriptions: engine,
		Store:         s,
		Limiter:       middleware.NewRateLimiter(0.001, 1),
	})

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/patients", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}
