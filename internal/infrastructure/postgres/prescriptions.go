package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/perobal/sismed/internal/domain/civildate"
	"github.com/perobal/sismed/internal/domain/errs"
	"github.com/perobal/sismed/internal/domain/prescription"
)

const foreignKeyViolation = "23503"

// PrescriptionRepo implements prescription.Repository. Items are kept as a
// JSONB array on the prescription row.
type PrescriptionRepo struct {
	db *DB
}

var _ prescription.Repository = (*PrescriptionRepo)(nil)

// NewPrescriptionRepo creates a prescription repository.
func NewPrescriptionRepo(db *DB) *PrescriptionRepo {
	return &PrescriptionRepo{db: db}
}

const prescriptionSelect = `
	SELECT rx.id, rx.public_id, rx.patient_id, p.public_id, rx.issue_date,
	       rx.expiration_date, rx.items, rx.notes, rx.created_at
	FROM prescriptions rx
	JOIN patients p ON p.id = rx.patient_id`

func (r *PrescriptionRepo) Create(ctx context.Context, p *prescription.Prescription) error {
	items, err := prescription.EncodeItems(p.Items)
	if err != nil {
		return err
	}

	err = r.db.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (public_id, patient_id, issue_date, expiration_date, items, notes)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING id, created_at`,
		p.ExternalID, p.PatientID, p.IssueDate.Time(), dateArg(p.ExpirationDate), string(items), p.Notes,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return errs.ErrNotFound
		}
		return fmt.Errorf("insert prescription: %w", mapError(err))
	}
	return nil
}

func (r *PrescriptionRepo) Get(ctx context.Context, externalID string) (*prescription.Prescription, error) {
	row := r.db.conn(ctx).QueryRow(ctx, prescriptionSelect+` WHERE rx.public_id = $1`, externalID)
	p, err := scanPrescription(row)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (r *PrescriptionRepo) List(ctx context.Context, f prescription.ListFilter) ([]*prescription.Prescription, error) {
	var (
		rows pgx.Rows
		err  error
	)
	const order = ` ORDER BY rx.created_at DESC, rx.id DESC`
	if f.PatientID != nil {
		rows, err = r.db.conn(ctx).Query(ctx, prescriptionSelect+` WHERE rx.patient_id = $1`+order, *f.PatientID)
	} else {
		rows, err = r.db.conn(ctx).Query(ctx, prescriptionSelect+order)
	}
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	out := []*prescription.Prescription{}
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PrescriptionRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *PrescriptionRepo) DeleteByPatient(ctx context.Context, patientID int64) ([]string, error) {
	rows, err := r.db.conn(ctx).Query(ctx,
		`DELETE FROM prescriptions WHERE patient_id = $1 RETURNING public_id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("delete prescriptions of patient: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect deleted prescriptions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *PrescriptionRepo) DeleteIssuedBefore(ctx context.Context, cutoff civildate.Date) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`DELETE FROM prescriptions WHERE issue_date < $1`, cutoff.Time())
	if err != nil {
		return 0, fmt.Errorf("delete prescriptions before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func (r *PrescriptionRepo) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.conn(ctx).Exec(ctx, `DELETE FROM prescriptions`)
	if err != nil {
		return 0, fmt.Errorf("delete prescriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPrescription(row pgx.Row) (*prescription.Prescription, error) {
	var (
		p          prescription.Prescription
		issue      time.Time
		expiration *time.Time
		items      []byte
	)
	err := row.Scan(&p.ID, &p.ExternalID, &p.PatientID, &p.PatientExternalID,
		&issue, &expiration, &items, &p.Notes, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.IssueDate = civildate.Of(issue)
	p.ExpirationDate = dateValue(expiration)
	if p.Items, err = prescription.DecodeItems(items); err != nil {
		return nil, err
	}
	return &p, nil
}
