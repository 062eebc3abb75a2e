package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/identity"
	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
)

// PatientRepo implements patient.Repository.
type PatientRepo struct{ s *Store }

var _ patient.Repository = (*PatientRepo)(nil)

func (r *PatientRepo) Create(ctx context.Context, p *patient.Patient) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	p.ID = r.s.data.id()
	p.CreatedAt = time.Now().UTC()
	r.s.data.patients[p.ID] = copyPatient(p)
	return nil
}

func (r *PatientRepo) Get(ctx context.Context, externalID string) (*patient.Patient, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, p := range r.s.data.patients {
		if p.ExternalID == externalID {
			return copyPatient(p), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *PatientRepo) Update(ctx context.Context, p *patient.Patient) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.data.patients[p.ID]; !ok {
		return errs.ErrNotFound
	}
	r.s.data.patients[p.ID] = copyPatient(p)
	return nil
}

func (r *PatientRepo) Delete(ctx context.Context, id int64) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.data.patients[id]; !ok {
		return errs.ErrNotFound
	}
	// Mirrors the foreign key in the relational schema.
	for _, rx := range r.s.data.prescriptions {
		if rx.PatientID == id {
			return fmt.Errorf("patient %d is still referenced by prescriptions", id)
		}
	}
	delete(r.s.data.patients, id)
	return nil
}

func (r *PatientRepo) List(ctx context.Context) ([]*patient.Patient, error) {
	return r.filter(ctx, func(*patient.Patient) bool { return true }), nil
}

func (r *PatientRepo) Search(ctx context.Context, q patient.SearchQuery) ([]*patient.Patient, error) {
	return r.filter(ctx, func(p *patient.Patient) bool {
		switch {
		case q.Name != "" && strings.Contains(p.Name, q.Name):
			return true
		case q.NationalID != "" && p.NationalID != "" && strings.Contains(p.NationalID, q.NationalID):
			return true
		case q.Digits != "" && p.NationalID != "" && strings.Contains(identity.Digits(p.NationalID), q.Digits):
			return true
		}
		return false
	}), nil
}

func (r *PatientRepo) filter(ctx context.Context, keep func(*patient.Patient) bool) []*patient.Patient {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := []*patient.Patient{}
	for _, p := range r.s.data.patients {
		if keep(p) {
			out = append(out, copyPatient(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MedicineRepo implements medicine.Repository.
type MedicineRepo struct{ s *Store }

var _ medicine.Repository = (*MedicineRepo)(nil)

func (r *MedicineRepo) Create(ctx context.Context, m *medicine.Medicine) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if r.collides(m) {
		return errs.ErrDuplicate
	}
	m.ID = r.s.data.id()
	m.CreatedAt = time.Now().UTC()
	r.s.data.medicines[m.ID] = copyMedicine(m)
	return nil
}

func (r *MedicineRepo) Get(ctx context.Context, externalID string) (*medicine.Medicine, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, m := range r.s.data.medicines {
		if m.ExternalID == externalID {
			return copyMedicine(m), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MedicineRepo) FindByKey(ctx context.Context, key medicine.Key) (*medicine.Medicine, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, m := range r.s.data.medicines {
		if m.Name == key.Name && m.Strength == key.Strength && m.Form == key.Form {
			return copyMedicine(m), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *MedicineRepo) Update(ctx context.Context, m *medicine.Medicine) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.data.medicines[m.ID]; !ok {
		return errs.ErrNotFound
	}
	if r.collides(m) {
		return errs.ErrDuplicate
	}
	r.s.data.medicines[m.ID] = copyMedicine(m)
	return nil
}

func (r *MedicineRepo) Delete(ctx context.Context, id int64) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.data.medicines[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.s.data.medicines, id)
	return nil
}

func (r *MedicineRepo) DeleteAll(ctx context.Context) (int64, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	n := int64(len(r.s.data.medicines))
	r.s.data.medicines = make(map[int64]*medicine.Medicine)
	return n, nil
}

func (r *MedicineRepo) List(ctx context.Context) ([]*medicine.Medicine, error) {
	return r.filter(ctx, ""), nil
}

func (r *MedicineRepo) Search(ctx context.Context, name string) ([]*medicine.Medicine, error) {
	return r.filter(ctx, name), nil
}

func (r *MedicineRepo) filter(ctx context.Context, name string) []*medicine.Medicine {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := []*medicine.Medicine{}
	for _, m := range r.s.data.medicines {
		if strings.Contains(m.Name, name) {
			out = append(out, copyMedicine(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Strength != b.Strength {
			return a.Strength < b.Strength
		}
		return a.ID < b.ID
	})
	return out
}

func (r *MedicineRepo) collides(m *medicine.Medicine) bool {
	for id, other := range r.s.data.medicines {
		if id != m.ID && other.Name == m.Name && other.Strength == m.Strength && other.Form == m.Form {
			return true
		}
	}
	return false
}

// PrescriptionRepo implements prescription.Repository.
type PrescriptionRepo struct{ s *Store }

var _ prescription.Repository = (*PrescriptionRepo)(nil)

func (r *PrescriptionRepo) Create(ctx context.Context, p *prescription.Prescription) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.data.patients[p.PatientID]; !ok {
		return errs.ErrNotFound
	}
	p.ID = r.s.data.id()
	p.CreatedAt = time.Now().UTC()
	r.s.data.prescriptions[p.ID] = copyPrescription(p)
	return nil
}

func (r *PrescriptionRepo) Get(ctx context.Context, externalID string) (*prescription.Prescription, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	for _, p := range r.s.data.prescriptions {
		if p.ExternalID == externalID {
			return copyPrescription(p), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r *PrescriptionRepo) List(ctx context.Context, f prescription.ListFilter) ([]*prescription.Prescription, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	out := []*prescription.Prescription{}
	for _, p := range r.s.data.prescriptions {
		if f.PatientID != nil && p.PatientID != *f.PatientID {
			continue
		}
		out = append(out, copyPrescription(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return out, nil
}

func (r *PrescriptionRepo) Delete(ctx context.Context, id int64) error {
	unlock := r.s.lock(ctx)
	defer unlock()

	if _, ok := r.s.data.prescriptions[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.s.data.prescriptions, id)
	return nil
}

func (r *PrescriptionRepo) DeleteByPatient(ctx context.Context, patientID int64) ([]string, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	var ids []string
	for id, p := range r.s.data.prescriptions {
		if p.PatientID == patientID {
			ids = append(ids, p.ExternalID)
			delete(r.s.data.prescriptions, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *PrescriptionRepo) DeleteIssuedBefore(ctx context.Context, cutoff civildate.Date) (int64, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	var n int64
	for id, p := range r.s.data.prescriptions {
		if p.IssueDate.Before(cutoff) {
			delete(r.s.data.prescriptions, id)
			n++
		}
	}
	return n, nil
}

func (r *PrescriptionRepo) DeleteAll(ctx context.Context) (int64, error) {
	unlock := r.s.lock(ctx)
	defer unlock()

	n := int64(len(r.s.data.prescriptions))
	r.s.data.prescriptions = make(map[int64]*prescription.Prescription)
	return n, nil
}
