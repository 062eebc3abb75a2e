// Package errs defines the error taxonomy shared by the domain services and
// the HTTP layer.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Use errors.Is against these.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrDuplicate  = errors.New("duplicate entry")
)

// Error carries a user-facing message and unwraps to one of the sentinel kinds.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// NotFound returns an ErrNotFound with the given message.
func NotFound(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Validation returns an ErrValidation with the given message.
func Validation(format string, args ...any) error {
	return &Error{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// Duplicate returns an ErrDuplicate with the given message.
func Duplicate(format string, args ...any) error {
	return &Error{kind: ErrDuplicate, msg: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show a client. Unclassified errors are
// replaced by a generic message so internals do not leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.msg
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "Registro não encontrado"
	case errors.Is(err, ErrDuplicate):
		return "Registro duplicado"
	case errors.Is(err, ErrValidation):
		return "Dados inválidos"
	}
	return "Erro interno do servidor"
}
