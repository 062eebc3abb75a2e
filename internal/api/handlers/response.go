// Package handlers implements the HTTP handlers of the clinic API. Every
// JSON response uses the envelope {"data": ..., "error": ...}.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/perobal/sismed/internal/api/middleware"
	"github.com/perobal/sismed/internal/domain/errs"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Data    any     `json:"data"`
	Error   *string `json:"error"`
	Message string  `json:"message,omitempty"`
}

// Message is the data of delete responses.
type Message struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

// fail writes err as an envelope. Unclassified errors are logged and
// reported with a generic message.
func fail(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	msg := errs.Message(err)
	writeJSON(w, status, envelope{Error: &msg})
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Validation("Corpo da requisição vazio")
		}
		return errs.Validation("JSON inválido")
	}
	return nil
}
