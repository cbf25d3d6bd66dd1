// Package handlers implements the HTTP surface of the engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetsense/fleetsense-engine/pkg/apperrors"
)

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error response.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteError maps domain errors onto HTTP status codes.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		_ = ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrGenerationInvalid):
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "generation_failed", userMessageFor(err))
	case errors.Is(err, apperrors.ErrLLMUnavailable):
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "llm_unavailable", "language model is currently unavailable")
	case errors.Is(err, apperrors.ErrExecutionTimeout):
		_ = ErrorResponse(w, http.StatusGatewayTimeout, "execution_timeout", err.Error())
	case errors.Is(err, apperrors.ErrExecutionError):
		_ = ErrorResponse(w, http.StatusBadGateway, "execution_error", err.Error())
	case errors.Is(err, apperrors.ErrExportTooLarge):
		_ = ErrorResponse(w, http.StatusRequestEntityTooLarge, "export_too_large", err.Error())
	default:
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// userMessageFor prefers the guidance attached to a generation error.
func userMessageFor(err error) string {
	var genErr *apperrors.GenerationError
	if errors.As(err, &genErr) && genErr.Guidance != "" {
		return genErr.Guidance
	}
	return err.Error()
}
