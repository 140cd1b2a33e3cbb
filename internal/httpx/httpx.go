// Package httpx provides JSON response helpers and maps domain errors to
// HTTP statuses in one place, so every handler fails identically.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"finbook/internal/advice"
	"finbook/internal/auth"
	"finbook/internal/session"
	"finbook/internal/storage"
)

// ErrorResponse is the uniform failure body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error body with the given status code.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// RespondError maps a domain error to an HTTP response. Unrecognized errors
// become a generic 500 with no internal detail.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrDuplicateUsername):
		Error(w, http.StatusConflict, "username already taken")
	case errors.Is(err, auth.ErrWeakPassword):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		Error(w, http.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, session.ErrNoSession):
		Error(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, storage.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, advice.ErrUpstream):
		Error(w, http.StatusBadGateway, "something went wrong")
	default:
		Error(w, http.StatusInternalServerError, "internal server error")
	}
}

// Decode decodes a JSON request body into target.
func Decode(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
