package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
	"github.com/perobal/sismed/internal/infrastructure/memory"
)

type counter struct {
	reason string
	n      int64
}

func (c *counter) PrescriptionsDeleted(reason string, n int64) {
	c.reason = reason
	c.n += n
}

type failingPurger struct{}

func (failingPurger) PurgeIssuedBefore(context.Context, civildate.Date) (int64, error) {
	return 0, errors.New("store down")
}

func TestRunPurgesOutsideWindow(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	engine := prescription.NewEngine(s.Prescriptions(), s.Patients(), s.Medicines(), s, s, nil)
	patients := patient.NewService(s.Patients(), s, engine, nil)
	catalog := medicine.NewService(s.Medicines(), s, nil)

	pat, err := patients.Create(ctx, patient.CreateInput{Name: "rosa"})
	require.NoError(t, err)
	med, err := catalog.Create(ctx, medicine.CreateInput{Name: "fluoxetina", Strength: "20mg", Form: "cápsula"})
	require.NoError(t, err)

	for _, d := range []string{"2024-01-01", "2024-05-31", "2024-06-01", "2024-06-20"} {
		_, err := engine.Create(ctx, prescription.CreateInput{
			PatientID: pat.ExternalID,
			Items:     []prescription.Item{{MedicineID: med.ExternalID, Posology: "1 ao dia"}},
			IssueDate: d,
		})
		require.NoError(t, err)
	}

	obs := &counter{}
	r := NewRetention(RetentionConfig{Days: 30, At: "03:00"}, engine, obs, nil)
	r.today = func() civildate.Date { return civildate.New(2024, time.July, 1) }

	assert.Equal(t, "2024-06-01", r.Cutoff().String())

	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, prescription.ReasonRetention, obs.reason)
	assert.Equal(t, int64(2), obs.n)

	left, err := engine.List(ctx, pat.ExternalID)
	require.NoError(t, err)
	require.Len(t, left, 2)

	n, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDisabledRetention(t *testing.T) {
	r := NewRetention(RetentionConfig{Days: 0, At: "03:00"}, failingPurger{}, nil, nil)

	assert.False(t, r.Enabled())
	require.NoError(t, r.Start())
	defer r.Stop()

	n, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunReportsPurgeError(t *testing.T) {
	r := NewRetention(RetentionConfig{Days: 7, At: "03:00"}, failingPurger{}, nil, nil)

	_, err := r.Run(context.Background())
	assert.EqualError(t, err, "store down")
}

func TestStartRejectsBadClock(t *testing.T) {
	r := NewRetention(RetentionConfig{Days: 7, At: "25:99"}, failingPurger{}, nil, nil)

	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule retention purge")
}
