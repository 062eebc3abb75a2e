package printspool_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/memory"
	"github.com/perobal/sismed/internal/infrastructure/redpanda"
	"github.com/perobal/sismed/internal/printspool"
	"github.com/perobal/sismed/pkg/circuitbreaker"
	"github.com/perobal/sismed/pkg/idempotency"
	"github.com/perobal/sismed/pkg/workerpool"
)

type outcomes struct {
	mu   sync.Mutex
	seen []string
}

func (o *outcomes) SpoolEvent(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, outcome)
}

func (o *outcomes) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

type flakyRenderer struct {
	next     printspool.Renderer
	failures int
}

func (f *flakyRenderer) Render(ctx context.Context, id string) (*document.Document, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("renderer busy")
	}
	return f.next.Render(ctx, id)
}

type env struct {
	store    *memory.Store
	engine   *prescription.Engine
	renderer *document.Renderer
	patient  string
	medicine string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	s := memory.New()
	engine := prescription.NewEngine(s.Prescriptions(), s.Patients(), s.Medicines(), s, s, nil)
	patients := patient.NewService(s.Patients(), s, engine, nil)
	catalog := medicine.NewService(s.Medicines(), s, nil)

	pat, err := patients.Create(ctx, patient.CreateInput{Name: "helena prado"})
	require.NoError(t, err)
	med, err := catalog.Create(ctx, medicine.CreateInput{Name: "clonazepam", Strength: "2mg", Form: "comprimido"})
	require.NoError(t, err)

	return &env{
		store:    s,
		engine:   engine,
		renderer: document.NewRenderer(engine, patients, catalog, document.DefaultOrganization(), nil, nil),
		patient:  pat.ExternalID,
		medicine: med.ExternalID,
	}
}

func (e *env) issue(t *testing.T, date string) (*prescription.Prescription, *redpanda.ConsumedMessage) {
	t.Helper()
	rx, err := e.engine.Create(context.Background(), prescription.CreateInput{
		PatientID: e.patient,
		Items:     []prescription.Item{{MedicineID: e.medicine, Posology: "1 à noite"}},
		IssueDate: date,
	})
	require.NoError(t, err)

	events := e.store.Events()
	last := events[len(events)-1]
	require.Equal(t, prescription.EventPrescriptionIssued, last.EventType)
	return rx, message(t, last)
}

func message(t *testing.T, ev *prescription.Event) *redpanda.ConsumedMessage {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return &redpanda.ConsumedMessage{
		Topic: redpanda.TopicPrescriptionEvents,
		Key:   []byte(ev.AggregateID),
		Value: b,
	}
}

func newSpooler(t *testing.T, dir string, r printspool.Renderer, obs printspool.Observer) *printspool.Spooler {
	t.Helper()

	inbox := idempotency.New(idempotency.NewMemoryStore(), idempotency.DefaultConfig(), nil)
	bcfg := circuitbreaker.DefaultConfig("renderer")
	bcfg.IsSuccessful = printspool.BreakerSuccess
	breaker := circuitbreaker.New(bcfg, nil)

	s, err := printspool.New(printspool.Config{
		Dir:  dir,
		Pool: workerpool.Config{Workers: 2, QueueSize: 8, RetryDelay: time.Millisecond},
	}, r, inbox, breaker, obs, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestSpoolsIssuedPrescriptionOnce(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(t.TempDir(), "spool")
	obs := &outcomes{}
	s := newSpooler(t, dir, e.renderer, obs)

	rx, msg := e.issue(t, "2024-09-02")

	require.NoError(t, s.Handle(context.Background(), msg))
	require.NoError(t, s.Handle(context.Background(), msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "receita_HELENA_PRADO_20240902_"+rx.ExternalID+".pdf", entries[0].Name())

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(content[:5]))

	assert.Equal(t, []string{printspool.OutcomeSpooled, printspool.OutcomeDuplicate}, obs.list())
}

func TestSkipsDeletedPrescription(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	obs := &outcomes{}
	s := newSpooler(t, dir, e.renderer, obs)

	rx, msg := e.issue(t, "2024-09-02")
	require.NoError(t, e.engine.Delete(context.Background(), rx.ExternalID))

	require.NoError(t, s.Handle(context.Background(), msg))
	require.NoError(t, s.Handle(context.Background(), msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, []string{printspool.OutcomeSkipped, printspool.OutcomeSkipped}, obs.list())
}

func TestIgnoresOtherEvents(t *testing.T) {
	e := newEnv(t)
	obs := &outcomes{}
	s := newSpooler(t, t.TempDir(), e.renderer, obs)

	rx, _ := e.issue(t, "2024-09-02")
	require.NoError(t, e.engine.Delete(context.Background(), rx.ExternalID))
	events := e.store.Events()
	deleted := events[len(events)-1]
	require.Equal(t, prescription.EventPrescriptionDeleted, deleted.EventType)

	require.NoError(t, s.Handle(context.Background(), message(t, deleted)))
	require.NoError(t, s.Handle(context.Background(), &redpanda.ConsumedMessage{Value: []byte("not json")}))

	assert.Equal(t, []string{printspool.OutcomeIgnored, printspool.OutcomeMalformed}, obs.list())
}

func TestTransientFailureIsRetriedOnRedelivery(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	obs := &outcomes{}
	r := &flakyRenderer{next: e.renderer, failures: 1}
	s := newSpooler(t, dir, r, obs)

	_, msg := e.issue(t, "2024-09-03")

	err := s.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "renderer busy")

	require.NoError(t, s.Handle(context.Background(), msg))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, []string{printspool.OutcomeFailed, printspool.OutcomeSpooled}, obs.list())
}

func TestRequiresDirectory(t *testing.T) {
	_, err := printspool.New(printspool.Config{}, nil, nil, nil, nil, nil)
	require.Error(t, err)
}
