// Package prescription validates, stores and lists prescriptions.
package prescription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/perobal/sismed/internal/domain/civildate"
)

// Item is one dosed medicine on a prescription. Only the catalog reference
// is stored, so name, strength and form are resolved when rendering.
type Item struct {
	MedicineID string `json:"medicamentoId"`
	Posology   string `json:"posologia"`
}

// Prescription is issued to one patient on one date. It is never edited
// after creation.
type Prescription struct {
	ID                int64
	ExternalID        string
	PatientID         int64
	PatientExternalID string
	IssueDate         civildate.Date
	ExpirationDate    civildate.Date
	Items             []Item
	Notes             string
	CreatedAt         time.Time
}

type view struct {
	ID             string          `json:"id"`
	PatientID      string          `json:"pacienteId"`
	IssueDate      civildate.Date  `json:"data"`
	ExpirationDate *civildate.Date `json:"dataVencimento"`
	Items          []Item          `json:"medicamentos"`
	Notes          string          `json:"observacoes"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MarshalJSON renders the public view.
func (p *Prescription) MarshalJSON() ([]byte, error) {
	v := view{
		ID:        p.ExternalID,
		PatientID: p.PatientExternalID,
		IssueDate: p.IssueDate,
		Items:     p.Items,
		Notes:     p.Notes,
		CreatedAt: p.CreatedAt.UTC(),
	}
	if v.Items == nil {
		v.Items = []Item{}
	}
	if !p.ExpirationDate.IsZero() {
		d := p.ExpirationDate
		v.ExpirationDate = &d
	}
	return json.Marshal(v)
}

// EncodeItems serializes the item list into the blob kept by the store.
func EncodeItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return b, nil
}

// DecodeItems parses a stored item blob. An empty blob is an empty list.
func DecodeItems(b []byte) ([]Item, error) {
	if len(b) == 0 {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

// ListFilter narrows a listing. A nil PatientID lists everything.
type ListFilter struct {
	PatientID *int64
}

// Repository persists prescriptions. Lookups of missing rows return
// errs.ErrNotFound. Listings are ordered by creation time, newest first.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	Get(ctx context.Context, externalID string) (*Prescription, error)
	List(ctx context.Context, f ListFilter) ([]*Prescription, error)
	Delete(ctx context.Context, id int64) error
	// DeleteByPatient returns the external ids of the removed rows.
	DeleteByPatient(ctx context.Context, patientID int64) ([]string, error)
	DeleteIssuedBefore(ctx context.Context, cutoff civildate.Date) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// EventRecorder stores lifecycle events in the same transaction as the
// mutation that produced them.
type EventRecorder interface {
	Record(ctx context.Context, e *Event) error
}
