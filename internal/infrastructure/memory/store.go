// Package memory is an in-process store implementing every repository and
// the transaction runner. Transactions hold a single writer lock and restore
// a snapshot when they fail.
package memory

import (
	"context"
	"sync"

	"github.com/perobal/sismed/internal/domain/medicine"
	"github.com/perobal/sismed/internal/domain/patient"
	"github.com/perobal/sismed/internal/domain/prescription"
)

type txKey struct{}

type state struct {
	nextID        int64
	patients      map[int64]*patient.Patient
	medicines     map[int64]*medicine.Medicine
	prescriptions map[int64]*prescription.Prescription
	events        []*prescription.Event
}

func newState() *state {
	return &state{
		patients:      make(map[int64]*patient.Patient),
		medicines:     make(map[int64]*medicine.Medicine),
		prescriptions: make(map[int64]*prescription.Prescription),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.nextID = st.nextID
	for id, p := range st.patients {
		c.patients[id] = copyPatient(p)
	}
	for id, m := range st.medicines {
		c.medicines[id] = copyMedicine(m)
	}
	for id, p := range st.prescriptions {
		c.prescriptions[id] = copyPrescription(p)
	}
	c.events = append([]*prescription.Event(nil), st.events...)
	return c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store is the in-memory backend.
type Store struct {
	mu   sync.Mutex
	data *state
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// WithinTx runs fn under the writer lock. Nested calls join the outer
// transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx, s) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Record appends a lifecycle event.
func (s *Store) Record(ctx context.Context, e *prescription.Event) error {
	unlock := s.lock(ctx)
	defer unlock()
	s.data.events = append(s.data.events, e)
	return nil
}

// Events returns the recorded events in order.
func (s *Store) Events() []*prescription.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*prescription.Event(nil), s.data.events...)
}

// Patients returns the patient repository.
func (s *Store) Patients() *PatientRepo { return &PatientRepo{s: s} }

// Medicines returns the catalog repository.
func (s *Store) Medicines() *MedicineRepo { return &MedicineRepo{s: s} }

// Prescriptions returns the prescription repository.
func (s *Store) Prescriptions() *PrescriptionRepo { return &PrescriptionRepo{s: s} }

// lock takes the writer lock unless ctx already belongs to a transaction of
// this store.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx, s) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func inTx(ctx context.Context, s *Store) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

func copyPatient(p *patient.Patient) *patient.Patient {
	c := *p
	return &c
}

func copyMedicine(m *medicine.Medicine) *medicine.Medicine {
	c := *m
	return &c
}

func copyPrescription(p *prescription.Prescription) *prescription.Prescription {
	c := *p
	c.Items = append([]prescription.Item(nil), p.Items...)
	return &c
}
