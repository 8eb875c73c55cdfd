package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nudgehq/nudge/internal/apperr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func ErrorWithDetails(w http.ResponseWriter, status int, code string, message string, details any) {
	JSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func Forbidden(w http.ResponseWriter, message string) {
	Error(w, http.StatusForbidden, "FORBIDDEN", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// ErrorFrom writes err with the status its kind maps to. Persistence
// failures are logged by the layer that produced them and only reported
// generically here.
func ErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case apperr.IsValidation(err):
		Error(w, http.StatusBadRequest, "VALIDATION_ERROR", apperr.Message(err))
	case apperr.IsNotFound(err):
		Error(w, http.StatusNotFound, "NOT_FOUND", apperr.Message(err))
	case apperr.IsStateConflict(err):
		Error(w, http.StatusConflict, "STATE_CONFLICT", apperr.Message(err))
	case apperr.IsDownstream(err):
		Error(w, http.StatusBadGateway, "DOWNSTREAM_ERROR", apperr.Message(err))
	default:
		InternalError(w, apperr.Message(err))
	}
}
