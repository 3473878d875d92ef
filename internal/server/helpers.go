package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobmcallan/folio/internal/models"
)

// ErrorResponse is the standard error format for REST API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message})
}

// WriteErrorWithCode writes a JSON error response with an error code.
func WriteErrorWithCode(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var ce *models.ConflictError
	switch {
	case errors.As(err, &ve):
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "validation", Field: ve.Field})
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoSnapshot):
		WriteErrorWithCode(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, models.ErrReconciliationAbandoned):
		WriteErrorWithCode(w, http.StatusConflict, err.Error(), "abandoned")
	case errors.Is(err, models.ErrVersionConflict), errors.As(err, &ce):
		WriteErrorWithCode(w, http.StatusConflict, err.Error(), "conflict")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// RequireMethod validates the HTTP method and returns true if it matches.
// If it doesn't match, it writes a 405 response and returns false.
func RequireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// DecodeJSON reads and decodes JSON from the request body into v.
// Returns false and writes a 400 error if decoding fails.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody {
		WriteError(w, http.StatusBadRequest, "Request body is required")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// decodeOptionalJSON decodes the body into v when one is present.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	return DecodeJSON(w, r, v)
}

// queryInt parses an integer query parameter. A missing parameter yields 0.
func queryInt(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, models.NewValidationError(name, models.ErrInvalidField, "%q is not an integer", v)
	}
	return n, nil
}

// queryFloat parses a decimal query parameter. A missing parameter yields 0.
func queryFloat(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, models.NewValidationError(name, models.ErrInvalidField, "%q is not a number", v)
	}
	return f, nil
}
