package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/infrasage/infrasage/internal/audit"
)

// APIError represents a structured API error response
type APIError struct {
	Error         string            `json:"error"`
	Code          string            `json:"code,omitempty"`
	Message       string            `json:"message"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// Error codes for common scenarios
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeNoFeasible        = "NO_FEASIBLE_SOLUTION"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondStructuredError sends a structured error response with error code and details
func respondStructuredError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	respondJSON(w, status, APIError{
		Error:         message,
		Code:          code,
		Message:       message,
		CorrelationID: audit.GetCorrelationID(r.Context()),
		Details:       details,
	})
}

// respondError is a convenience wrapper for structured errors without details
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondStructuredError(w, r, status, code, message, nil)
}

// respondValidationError reports failing fields keyed by their JSON name.
func respondValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[jsonFieldName(fe)] = fe.Tag()
	}
	respondStructuredError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "request validation failed", details)
}

func jsonFieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}
