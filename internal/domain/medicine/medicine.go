// Package medicine manages the medicine catalog.
package medicine

import (
	"context"
	"time"
)

// Medicine is a catalog entry. Name, Strength and Form together are unique.
type Medicine struct {
	ID         int64     `json:"-"`
	ExternalID string    `json:"id"`
	Name       string    `json:"nome"`
	Strength   string    `json:"dosagem"`
	Form       string    `json:"apresentacao"`
	CreatedAt  time.Time `json:"created_at"`
}

// Label renders the entry the way it is printed on a prescription.
func (m *Medicine) Label() string {
	return m.Name + " - " + m.Strength + " (" + m.Form + ")"
}

// Key is the natural key of a catalog entry, already normalized.
type Key struct {
	Name     string
	Strength string
	Form     string
}

// Repository persists catalog entries. Lookups of missing rows return
// errs.ErrNotFound and natural key collisions return errs.ErrDuplicate.
type Repository interface {
	Create(ctx context.Context, m *Medicine) error
	Get(ctx context.Context, externalID string) (*Medicine, error)
	FindByKey(ctx context.Context, key Key) (*Medicine, error)
	Update(ctx context.Context, m *Medicine) error
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]*Medicine, error)
	Search(ctx context.Context, name string) ([]*Medicine, error)
}
