package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/medicine"
)

// MedicineRepo implements medicine.Repository.
type MedicineRepo struct {
	db *DB
}

var _ medicine.Repository = (*MedicineRepo)(nil)

// NewMedicineRepo creates a catalog repository.
func NewMedicineRepo(db *DB) *MedicineRepo {
	return &MedicineRepo{db: db}
}

const medicineColumns = `id, public_id, name, strength, form, created_at`

func (r *MedicineRepo) Create(ctx context.Context, m *medicine.Medicine) error {
	err := r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO medicines (public_id, name, strength, form)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		m.ExternalID, m.Name, m.Strength, m.Form,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *MedicineRepo) Get(ctx context.Context, externalID string) (*medicine.Medicine, error) {
	return r.one(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE public_id = $1`, externalID)
}

func (r *MedicineRepo) FindByKey(ctx context.Context, key medicine.Key) (*medicine.Medicine, error) {
	return r.one(ctx, `
		SELECT `+medicineColumns+` FROM medicines
		WHERE name = $1 AND strength = $2 AND form = $3`,
		key.Name, key.Strength, key.Form)
}

func (r *MedicineRepo) Update(ctx context.Context, m *medicine.Medicine) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE medicines SET name = $1, strength = $2, form = $3
		WHERE id = $4`,
		m.Name, m.Strength, m.Form, m.ID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *MedicineRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM medicines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete medicine: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *MedicineRepo) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM medicines`)
	if err != nil {
		return 0, fmt.Errorf("delete catalog: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MedicineRepo) List(ctx context.Context) ([]*medicine.Medicine, error) {
	return r.many(ctx, `SELECT `+medicineColumns+` FROM medicines ORDER BY name, strength, id`)
}

func (r *MedicineRepo) Search(ctx context.Context, name string) ([]*medicine.Medicine, error) {
	return r.many(ctx, `
		SELECT `+medicineColumns+` FROM medicines
		WHERE name LIKE $1
		ORDER BY name, strength, id`,
		containsPattern(name))
}

func (r *MedicineRepo) one(ctx context.Context, sql string, args ...any) (*medicine.Medicine, error) {
	m, err := scanMedicine(r.db.conn(ctx).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

func (r *MedicineRepo) many(ctx context.Context, sql string, args ...any) ([]*medicine.Medicine, error) {
	rows, err := r.db.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query medicines: %w", err)
	}
	defer rows.Close()

	out := []*medicine.Medicine{}
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medicine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMedicine(row pgx.Row) (*medicine.Medicine, error) {
	var m medicine.Medicine
	if err := row.Scan(&m.ID, &m.ExternalID, &m.Name, &m.Strength, &m.Form, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
