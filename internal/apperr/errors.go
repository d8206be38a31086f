// internal/apperr/errors.go

// Package apperr defines the error taxonomy shared by every service and its
// mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrCapacityExceeded   = errors.New("capacity exceeded")
	ErrDuplicateBooking   = errors.New("duplicate booking")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

type kindInfo struct {
	code   string
	status int
}

var kinds = map[error]kindInfo{
	ErrInvalidCredentials: {"invalid_credentials", http.StatusUnauthorized},
	ErrTokenInvalid:       {"token_invalid", http.StatusUnauthorized},
	ErrTokenExpired:       {"token_expired", http.StatusUnauthorized},
	ErrForbidden:          {"forbidden", http.StatusForbidden},
	ErrNotFound:           {"not_found", http.StatusNotFound},
	ErrCapacityExceeded:   {"capacity_exceeded", http.StatusConflict},
	ErrDuplicateBooking:   {"duplicate_booking", http.StatusConflict},
	ErrValidation:         {"validation_error", http.StatusBadRequest},
	ErrConflict:           {"conflict", http.StatusConflict},
	ErrRateLimited:        {"rate_limited", http.StatusTooManyRequests},
}

// Error is a classified error carrying a short message that is safe to show
// to API callers.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

// New classifies msg under kind.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the taxonomy sentinel err belongs to, or nil for
// unclassified (internal) errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// HTTPStatus maps err to the status code surfaced to the caller.
func HTTPStatus(err error) int {
	if kind := KindOf(err); kind != nil {
		return kinds[kind].status
	}
	return http.StatusInternalServerError
}

// Code returns the machine readable code for err.
func Code(err error) string {
	if kind := KindOf(err); kind != nil {
		return kinds[kind].code
	}
	return "internal_error"
}

// PublicMessage returns the message that may be returned to a caller.
// Internal errors are collapsed to a generic text.
func PublicMessage(err error) string {
	if KindOf(err) == nil {
		return "internal server error"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return KindOf(err).Error()
}
