package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/patient"
)

// PatientRepo implements patient.Repository.
type PatientRepo struct {
	db *DB
}

var _ patient.Repository = (*PatientRepo)(nil)

// NewPatientRepo creates a patient repository.
func NewPatientRepo(db *DB) *PatientRepo {
	return &PatientRepo{db: db}
}

const patientColumns = `id, public_id, name, national_id, birth_date, created_at`

func (r *PatientRepo) Create(ctx context.Context, p *patient.Patient) error {
	err := r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (public_id, name, national_id, birth_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		p.ExternalID, p.Name, nullText(p.NationalID), dateArg(p.BirthDate),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", mapError(err))
	}
	return nil
}

func (r *PatientRepo) Get(ctx context.Context, externalID string) (*patient.Patient, error) {
	row := r.db.conn(ctx).QueryRow(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE public_id = $1`, externalID)
	p, err := scanPatient(row)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (r *PatientRepo) Update(ctx context.Context, p *patient.Patient) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `
		UPDATE patients SET name = $1, national_id = $2, birth_date = $3
		WHERE id = $4`,
		p.Name, nullText(p.NationalID), dateArg(p.BirthDate), p.ID)
	if err != nil {
		return fmt.Errorf("update patient: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *PatientRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *PatientRepo) List(ctx context.Context) ([]*patient.Patient, error) {
	rows, err := r.db.conn(ctx).Query(ctx,
		`SELECT `+patientColumns+` FROM patients ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return collectPatients(rows)
}

func (r *PatientRepo) Search(ctx context.Context, q patient.SearchQuery) ([]*patient.Patient, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT `+patientColumns+` FROM patients
		WHERE ($1 <> '' AND name LIKE $2)
		   OR ($3 <> '' AND national_id LIKE $4)
		   OR ($5 <> '' AND regexp_replace(national_id, '[^0-9]', '', 'g') LIKE $6)
		ORDER BY name, id`,
		q.Name, containsPattern(q.Name),
		q.NationalID, containsPattern(q.NationalID),
		q.Digits, containsPattern(q.Digits),
	)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return collectPatients(rows)
}

func scanPatient(row pgx.Row) (*patient.Patient, error) {
	var (
		p          patient.Patient
		nationalID *string
		birth      *time.Time
	)
	if err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &nationalID, &birth, &p.CreatedAt); err != nil {
		return nil, err
	}
	if nationalID != nil {
		p.NationalID = *nationalID
	}
	p.BirthDate = dateValue(birth)
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*patient.Patient, error) {
	defer rows.Close()

	out := []*patient.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateArg(d civildate.Date) *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

func dateValue(t *time.Time) civildate.Date {
	if t == nil {
		return civildate.Date{}
	}
	return civildate.Of(*t)
}

// containsPattern builds a LIKE pattern matching s anywhere, with LIKE
// wildcards in s taken literally.
func containsPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
