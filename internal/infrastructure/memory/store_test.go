package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
)

func TestWithinTxRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Patients().Create(ctx, &patient.Patient{ExternalID: "a", Name: "ANA"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	list, _ := s.Patients().List(ctx)
	if len(list) != 0 {
		t.Errorf("rolled back insert is visible: %d patients", len(list))
	}
}

func TestWithinTxNested(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return s.Medicines().Create(ctx, &medicine.Medicine{ExternalID: "m", Name: "A", Strength: "1MG", Form: "COMPRIMIDO"})
		})
	})
	if err != nil {
		t.Fatalf("nested tx failed: %v", err)
	}

	if _, err := s.Medicines().Get(ctx, "m"); err != nil {
		t.Errorf("nested write lost: %v", err)
	}
}

func TestMedicineKeyIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Medicines()

	if err := repo.Create(ctx, &medicine.Medicine{ExternalID: "1", Name: "A", Strength: "1MG", Form: "X"}); err != nil {
		t.Fatal(err)
	}
	err := repo.Create(ctx, &medicine.Medicine{ExternalID: "2", Name: "A", Strength: "1MG", Form: "X"})
	if !errors.Is(err, errs.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &patient.Patient{ExternalID: "a", Name: "ANA"}
	if err := s.Patients().Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Name = "CHANGED"

	got, err := s.Patients().Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "ANA" {
		t.Errorf("store aliased caller value: %q", got.Name)
	}
}
