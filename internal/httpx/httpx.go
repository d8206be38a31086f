// internal/httpx/httpx.go

// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fitjourney/internal/apperr"
	"fitjourney/internal/logging"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err through the error taxonomy and writes it.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperr.HTTPStatus(err), ErrorResponse{
		Error: apperr.PublicMessage(err),
		Code:  apperr.Code(err),
	})
}

// Fail writes err and logs it when it is not a classified error.
func Fail(w http.ResponseWriter, r *http.Request, log *logging.Logger, err error) {
	if apperr.KindOf(err) == nil && log != nil {
		log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	WriteError(w, err)
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.ErrValidation, "request body is required")
		}
		return apperr.New(apperr.ErrValidation, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// PathUUID parses the named chi URL parameter as a UUID.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.New(apperr.ErrValidation, fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}
