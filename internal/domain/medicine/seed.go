package medicine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/identity"
)

// OfficialCatalog is the municipal list of specialized medicines.
var OfficialCatalog = []CreateInput{
	{"AMITRIPTILINA", "25MG", "COMPRIMIDO"},
	{"ÁCIDO VALPROICO", "250MG", "COMPRIMIDO"},
	{"ÁCIDO VALPROICO", "500MG", "COMPRIMIDO"},
	{"ÁCIDO VALPROICO", "50MG/ML", "SUSPENSÃO ORAL"},
	{"BIPERIDENO CLORIDRATO", "2MG", "COMPRIMIDO"},
	{"CARBAMAZEPINA", "200MG", "COMPRIMIDO"},
	{"CARBAMAZEPINA", "20MG/ML", "SUSPENSÃO"},
	{"CARBONATO DE LÍTIO", "300MG", "COMPRIMIDO"},
	{"CLOMIPRAMINA CLORIDRATO", "25MG", "COMPRIMIDO"},
	{"CLONAZEPAM", "2MG", "COMPRIMIDO"},
	{"CLONAZEPAM", "2.5MG/ML", "SOLUÇÃO ORAL"},
	{"CLORPROMAZINA CLORIDRATO", "25MG", "COMPRIMIDO"},
	{"CLORPROMAZINA CLORIDRATO", "100MG", "COMPRIMIDO"},
	{"DESVENLAFAXINA SUCCINATO", "50MG", "COMPRIMIDO"},
	{"DIAZEPAM", "5MG", "COMPRIMIDO"},
	{"DIAZEPAM", "10MG", "COMPRIMIDO"},
	{"ESCITALOPRAM", "10MG", "COMPRIMIDO"},
	{"FENITOÍNA SÓDICA", "100MG", "COMPRIMIDO"},
	{"FENOBARBITAL", "100MG", "COMPRIMIDO"},
	{"FENOBARBITAL", "40MG/ML", "SOLUÇÃO ORAL"},
	{"FLUOXETINA", "20MG", "CÁPSULA/COMPRIMIDO"},
	{"HALOPERIDOL", "1MG", "COMPRIMIDO"},
	{"HALOPERIDOL", "5MG", "COMPRIMIDO"},
	{"HALOPERIDOL", "2MG/ML", "SOLUÇÃO ORAL"},
	{"HALOPERIDOL DECANOATO", "50MG/ML", "SOLUÇÃO INJETÁVEL"},
	{"IMIPRAMINA CLORIDRATO", "25MG", "COMPRIMIDO"},
	{"LEVOMEPROMAZINA", "25MG", "COMPRIMIDO"},
	{"LEVOMEPROMAZINA", "100MG", "COMPRIMIDO"},
	{"MIRTAZAPINA", "30MG", "COMPRIMIDO"},
	{"NORTRIPTILINA CLORIDRATO", "25MG", "COMPRIMIDO"},
	{"OXCARBAZEPINA", "600MG", "COMPRIMIDO"},
	{"OXCARBAZEPINA", "60MG/ML", "SOLUÇÃO ORAL"},
	{"PAROXETINA CLORIDRATO", "20MG", "COMPRIMIDO"},
	{"PREGABALINA", "75MG", "COMPRIMIDO"},
	{"SERTRALINA CLORIDRATO", "50MG", "COMPRIMIDO"},
	{"VENLAFAXINA CLORIDRATO", "75MG", "COMPRIMIDO"},
}

// SeedResult reports what a seeding run did.
type SeedResult struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
	Removed  int `json:"removed"`
}

// Seed inserts every entry whose natural key is not yet in the catalog. With
// reset the catalog is emptied first. The whole run is one transaction.
func (s *Service) Seed(ctx context.Context, entries []CreateInput, reset bool) (*SeedResult, error) {
	res := &SeedResult{}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if reset {
			n, err := s.repo.DeleteAll(ctx)
			if err != nil {
				return fmt.Errorf("clear catalog: %w", err)
			}
			res.Removed = int(n)
		}

		for _, in := range entries {
			m := &Medicine{ExternalID: identity.NewExternalID()}
			if err := m.apply(in.Name, in.Strength, in.Form); err != nil {
				return fmt.Errorf("seed entry %q: %w", in.Name, err)
			}

			_, err := s.repo.FindByKey(ctx, m.key())
			switch {
			case err == nil:
				res.Existing++
				continue
			case !errors.Is(err, errs.ErrNotFound):
				return fmt.Errorf("look up %q: %w", m.Name, err)
			}

			if err := s.repo.Create(ctx, m); err != nil {
				return fmt.Errorf("insert %q: %w", m.Name, err)
			}
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("catalog seeded",
		zap.Int("inserted", res.Inserted),
		zap.Int("existing", res.Existing),
		zap.Int("removed", res.Removed))
	return res, nil
}
