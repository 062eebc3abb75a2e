package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/perobal/sismed/internal/domain/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, errs.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, errs.ErrDuplicate},
		{"value too long", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "22001"}), errs.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("mapError() = %v, want %v", got, tt.want)
			}
		})
	}

	other := &pgconn.PgError{Code: "40001"}
	if got := mapError(other); got != error(other) {
		t.Errorf("mapError() = %v, want the original error", got)
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
	if got := errs.HTTPStatus(mapError(&pgconn.PgError{Code: "22001"})); got != 400 {
		t.Errorf("HTTPStatus = %d, want 400", got)
	}
}
