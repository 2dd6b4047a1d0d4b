package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/metriq-io/semantic-engine/pkg/apperrors"
)

// ApiError is the machine-readable error payload of a failed response.
type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ApiResponse wraps every endpoint's payload in the envelope the frontend
// expects: {success, data?, error?}.
type ApiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *ApiError `json:"error,omitempty"`
}

// ErrorResponse writes a failed envelope and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   &ApiError{Code: errorCode, Message: message},
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps a service error onto the response contract: validation
// errors are client-correctable 400s, duplicate names and conflicts are
// 409s, not found is 404, anything else is a server fault.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrDuplicateName):
		return http.StatusConflict, "duplicate_name"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrInvalidSource):
		return http.StatusBadRequest, "invalid_source"
	case errors.Is(err, apperrors.ErrUnknownColumn):
		return http.StatusBadRequest, "unknown_column"
	case errors.Is(err, apperrors.ErrUnresolvedLeftColumn):
		return http.StatusBadRequest, "unresolved_left_column"
	case errors.Is(err, apperrors.ErrCyclicOrDuplicateAlias):
		return http.StatusBadRequest, "duplicate_alias"
	case errors.Is(err, apperrors.ErrEmptySelection):
		return http.StatusBadRequest, "empty_selection"
	case errors.Is(err, apperrors.ErrUnsafeIdentifier):
		return http.StatusBadRequest, "unsafe_identifier"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return http.StatusInternalServerError, "credentials_key_mismatch"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError renders err per the status contract. Client-correctable
// errors surface their message verbatim; server faults are logged with
// context and masked with a generic message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, action string, fields ...zap.Field) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Failed to "+action, append(fields, zap.Error(err))...)
		message = "Failed to " + action
	}
	if werr := ErrorResponse(w, status, code, message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}
