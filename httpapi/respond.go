package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"solarflow/agreement"
	"solarflow/contact"
	"solarflow/pipeline"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// writeServiceError maps domain sentinels onto HTTP statuses. Business
// guards are conflicts, not server faults.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agreement.ErrValidation), errors.Is(err, contact.ErrValidation):
		writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, agreement.ErrNotFound),
		errors.Is(err, contact.ErrNotFound),
		errors.Is(err, pipeline.ErrOpportunityNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, agreement.ErrAlreadySigned):
		writeError(w, http.StatusConflict, "ALREADY_SIGNED", "agreement is already signed")
	case errors.Is(err, agreement.ErrExpired):
		writeError(w, http.StatusConflict, "EXPIRED", "signing link has expired")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
