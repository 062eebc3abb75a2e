package medicine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/identity"
	"github.com/perobal/sismed/internal/domain/store"
	"github.com/perobal/sismed/pkg/optional"
)

const duplicateMessage = "Medicamento já cadastrado com estes dados"

// CreateInput is the payload for a new catalog entry.
type CreateInput struct {
	Name     string `json:"nome"`
	Strength string `json:"dosagem"`
	Form     string `json:"apresentacao"`
}

// UpdateInput replaces only the fields whose keys were present.
type UpdateInput struct {
	Name     optional.Field[string] `json:"nome"`
	Strength optional.Field[string] `json:"dosagem"`
	Form     optional.Field[string] `json:"apresentacao"`
}

// Service implements catalog use cases.
type Service struct {
	repo   Repository
	tx     store.TxRunner
	logger *zap.Logger
}

// NewService creates a catalog service.
func NewService(repo Repository, tx store.TxRunner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, tx: tx, logger: logger}
}

// List returns the catalog ordered by name.
func (s *Service) List(ctx context.Context) ([]*Medicine, error) {
	meds, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	return meds, nil
}

// Get returns the entry with the given external id.
func (s *Service) Get(ctx context.Context, externalID string) (*Medicine, error) {
	m, err := s.repo.Get(ctx, externalID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.NotFound("Medicamento não encontrado")
	}
	if err != nil {
		return nil, fmt.Errorf("get medicine: %w", err)
	}
	return m, nil
}

// Search matches the normalized query as a substring of entry names.
func (s *Service) Search(ctx context.Context, query string) ([]*Medicine, error) {
	q := identity.NormalizeText(query)
	if q == "" {
		return []*Medicine{}, nil
	}
	meds, err := s.repo.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search medicines: %w", err)
	}
	return meds, nil
}

// Create validates and stores a new entry, rejecting natural key duplicates.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Medicine, error) {
	m := &Medicine{ExternalID: identity.NewExternalID()}
	if err := m.apply(in.Name, in.Strength, in.Form); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureUnique(ctx, m); err != nil {
			return err
		}
		return s.repo.Create(ctx, m)
	})
	if err != nil {
		return nil, s.translate(err, "create medicine")
	}

	s.logger.Info("medicine created", zap.String("medicine_id", m.ExternalID))
	return m, nil
}

// Update replaces the present fields. A present field may not be blank.
func (s *Service) Update(ctx context.Context, externalID string, in UpdateInput) (*Medicine, error) {
	var updated *Medicine
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.Get(ctx, externalID)
		if err != nil {
			return err
		}

		name, strength, form := m.Name, m.Strength, m.Form
		if in.Name.Present {
			name = in.Name.Value
		}
		if in.Strength.Present {
			strength = in.Strength.Value
		}
		if in.Form.Present {
			form = in.Form.Value
		}
		if err := m.apply(name, strength, form); err != nil {
			return err
		}

		if err := s.ensureUnique(ctx, m); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, m); err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "update medicine")
	}

	s.logger.Info("medicine updated", zap.String("medicine_id", externalID))
	return updated, nil
}

// Delete removes an entry. Prescriptions referencing it are left as they are;
// the entry simply stops appearing on their rendered documents.
func (s *Service) Delete(ctx context.Context, externalID string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.Get(ctx, externalID)
		if err != nil {
			return err
		}
		return s.repo.Delete(ctx, m.ID)
	})
	if err != nil {
		return s.translate(err, "delete medicine")
	}

	s.logger.Info("medicine deleted", zap.String("medicine_id", externalID))
	return nil
}

func (s *Service) ensureUnique(ctx context.Context, m *Medicine) error {
	existing, err := s.repo.FindByKey(ctx, m.key())
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check duplicate medicine: %w", err)
	}
	if existing.ExternalID != m.ExternalID {
		return errs.Duplicate(duplicateMessage)
	}
	return nil
}

// translate keeps classified errors and gives bare store sentinels a
// user-facing message.
func (s *Service) translate(err error, op string) error {
	var e *errs.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, errs.ErrDuplicate):
		return errs.Duplicate(duplicateMessage)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (m *Medicine) apply(name, strength, form string) error {
	name = identity.NormalizeText(name)
	strength = identity.NormalizeText(strength)
	form = identity.NormalizeText(form)

	switch {
	case name == "":
		return errs.Validation("Nome é obrigatório")
	case strength == "":
		return errs.Validation("Concentração é obrigatória")
	case form == "":
		return errs.Validation("Apresentação é obrigatória")
	}

	m.Name, m.Strength, m.Form = name, strength, form
	return nil
}

func (m *Medicine) key() Key {
	return Key{Name: m.Name, Strength: m.Strength, Form: m.Form}
}

// NewKey normalizes the parts of a natural key.
func NewKey(name, strength, form string) Key {
	return Key{
		Name:     identity.NormalizeText(name),
		Strength: identity.NormalizeText(strength),
		Form:     identity.NormalizeText(form),
	}
}
