package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/identity"
	"github.com/perobal/sismed/internal/domain/store"
	"github.com/perobal/sismed/pkg/optional"
)

// CreateInput is the payload for a new patient.
type CreateInput struct {
	Name       string `json:"nome"`
	NationalID string `json:"cpf"`
	BirthDate  string `json:"dataNascimento"`
}

// UpdateInput replaces only the fields whose keys were present.
type UpdateInput struct {
	Name       optional.Field[string] `json:"nome"`
	NationalID optional.Field[string] `json:"cpf"`
	BirthDate  optional.Field[string] `json:"dataNascimento"`
}

// Service implements patient use cases.
type Service struct {
	repo    Repository
	tx      store.TxRunner
	cascade PrescriptionCascade
	logger  *zap.Logger
}

// NewService creates a patient service.
func NewService(repo Repository, tx store.TxRunner, cascade PrescriptionCascade, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, tx: tx, cascade: cascade, logger: logger}
}

// List returns all patients ordered by name.
func (s *Service) List(ctx context.Context) ([]*Patient, error) {
	patients, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return patients, nil
}

// Get returns the patient with the given external id.
func (s *Service) Get(ctx context.Context, externalID string) (*Patient, error) {
	p, err := s.repo.Get(ctx, externalID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.NotFound("Paciente não encontrado")
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

// Search matches the query against names and CPFs. A blank query matches
// nothing.
func (s *Service) Search(ctx context.Context, query string) ([]*Patient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Patient{}, nil
	}
	patients, err := s.repo.Search(ctx, SearchQuery{
		Name:       identity.NormalizeName(query),
		NationalID: query,
		Digits:     identity.Digits(query),
	})
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return patients, nil
}

// Create validates and stores a new patient.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Patient, error) {
	p := &Patient{ExternalID: identity.NewExternalID()}

	if err := p.setName(in.Name); err != nil {
		return nil, err
	}
	if err := p.setNationalID(in.NationalID); err != nil {
		return nil, err
	}
	if err := p.setBirthDate(in.BirthDate); err != nil {
		return nil, err
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}

	s.logger.Info("patient created", zap.String("patient_id", p.ExternalID))
	return p, nil
}

// Update applies a partial update. Absent keys are left untouched, a blank
// name is rejected and null or blank optional fields are cleared.
func (s *Service) Update(ctx context.Context, externalID string, in UpdateInput) (*Patient, error) {
	var updated *Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.Get(ctx, externalID)
		if err != nil {
			return err
		}

		if in.Name.Present {
			if err := p.setName(in.Name.Value); err != nil {
				return err
			}
		}
		if in.NationalID.Present {
			if err := p.setNationalID(in.NationalID.Value); err != nil {
				return err
			}
		}
		if in.BirthDate.Present {
			if err := p.setBirthDate(in.BirthDate.Value); err != nil {
				return err
			}
		}

		if err := s.repo.Update(ctx, p); err != nil {
			return fmt.Errorf("update patient: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("patient updated", zap.String("patient_id", externalID))
	return updated, nil
}

// Delete removes a patient together with all of their prescriptions in one
// transaction and returns how many prescriptions were removed.
func (s *Service) Delete(ctx context.Context, externalID string) (int, error) {
	var removed int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.Get(ctx, externalID)
		if err != nil {
			return err
		}

		if s.cascade != nil {
			n, err := s.cascade.DeleteForPatient(ctx, p)
			if err != nil {
				return fmt.Errorf("delete prescriptions of patient: %w", err)
			}
			removed = n
		}

		if err := s.repo.Delete(ctx, p.ID); err != nil {
			return fmt.Errorf("delete patient: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("patient deleted",
		zap.String("patient_id", externalID),
		zap.Int("prescriptions_removed", removed))
	return removed, nil
}

func (p *Patient) setName(name string) error {
	name = identity.NormalizeName(name)
	if name == "" {
		return errs.Validation("Nome é obrigatório")
	}
	p.Name = name
	return nil
}

func (p *Patient) setNationalID(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		p.NationalID = ""
		return nil
	}
	if !identity.ValidNationalID(raw) {
		return errs.Validation("CPF inválido")
	}
	p.NationalID = identity.FormatNationalID(raw)
	return nil
}

func (p *Patient) setBirthDate(raw string) error {
	if strings.TrimSpace(raw) == "" {
		p.BirthDate = civildate.Date{}
		return nil
	}
	d, err := civildate.Parse(raw)
	if err != nil {
		return errs.Validation("Data de nascimento inválida")
	}
	p.BirthDate = d
	return nil
}
