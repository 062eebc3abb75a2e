package document_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perobal/sismed/internal/document"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/memory"
)

type recorder struct {
	renders int
	dropped int
}

func (r *recorder) DocumentRendered(_ time.Duration, dropped int) {
	r.renders++
	r.dropped += dropped
}

func TestRenderDropsRemovedMedicine(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	engine := prescription.NewEngine(s.Prescriptions(), s.Patients(), s.Medicines(), s, s, nil)
	patients := patient.NewService(s.Patients(), s, engine, nil)
	catalog := medicine.NewService(s.Medicines(), s, nil)

	pat, err := patients.Create(ctx, patient.CreateInput{Name: "ana maria costa"})
	require.NoError(t, err)
	med, err := catalog.Create(ctx, medicine.CreateInput{Name: "biperideno", Strength: "2mg", Form: "comprimido"})
	require.NoError(t, err)

	rx, err := engine.Create(ctx, prescription.CreateInput{
		PatientID: pat.ExternalID,
		Items:     []prescription.Item{{MedicineID: med.ExternalID, Posology: "1 ao dia"}},
		IssueDate: "2024-08-15",
	})
	require.NoError(t, err)

	rec := &recorder{}
	r := document.NewRenderer(engine, patients, catalog, document.Organization{}, rec, nil)

	doc, err := r.Render(ctx, rx.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, "receita_ANA_MARIA_COSTA_20240815.pdf", doc.Filename)
	assert.True(t, bytes.HasPrefix(doc.Content, []byte("%PDF-")))
	assert.Zero(t, rec.dropped)

	require.NoError(t, catalog.Delete(ctx, med.ExternalID))

	doc, err = r.Render(ctx, rx.ExternalID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc.Content, []byte("%PDF-")))
	assert.Equal(t, 2, rec.renders)
	assert.Equal(t, 1, rec.dropped)
}

func TestRenderUnknownPrescription(t *testing.T) {
	s := memory.New()
	engine := prescription.NewEngine(s.Prescriptions(), s.Patients(), s.Medicines(), s, s, nil)
	r := document.NewRenderer(engine, s.Patients(), s.Medicines(), document.DefaultOrganization(), nil, nil)

	_, err := r.Render(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Equal(t, "Receita não encontrada", errs.Message(err))
}
