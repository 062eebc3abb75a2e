// Package patient manages patient records.
package patient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/perobal/sismed/internal/domain/civildate"
)

// Patient is a person prescriptions are issued to.
type Patient struct {
	ID         int64
	ExternalID string
	Name       string
	// NationalID is the formatted CPF, empty when not informed.
	NationalID string
	BirthDate  civildate.Date
	CreatedAt  time.Time
}

type view struct {
	ID         string          `json:"id"`
	Name       string          `json:"nome"`
	NationalID *string         `json:"cpf"`
	BirthDate  *civildate.Date `json:"dataNascimento"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MarshalJSON renders the public view. The internal ID is never included.
func (p *Patient) MarshalJSON() ([]byte, error) {
	v := view{ID: p.ExternalID, Name: p.Name, CreatedAt: p.CreatedAt.UTC()}
	if p.NationalID != "" {
		id := p.NationalID
		v.NationalID = &id
	}
	if !p.BirthDate.IsZero() {
		d := p.BirthDate
		v.BirthDate = &d
	}
	return json.Marshal(v)
}

// SearchQuery is a prepared patient search.
type SearchQuery struct {
	// Name is the normalized text matched against patient names.
	Name string
	// NationalID is the raw text matched against stored CPFs.
	NationalID string
	// Digits is NationalID without punctuation, matched against CPF digits.
	Digits string
}

// Repository persists patients. Lookups of missing rows return errs.ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, externalID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*Patient, error)
	Search(ctx context.Context, q SearchQuery) ([]*Patient, error)
}

// PrescriptionCascade removes every prescription owned by a patient. It is
// called inside the patient deletion transaction.
type PrescriptionCascade interface {
	DeleteForPatient(ctx context.Context, p *Patient) (int, error)
}
