// Package httputil centralizes JSON response writing and domain error
// translation for HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "authhub/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError maps a domain error to its HTTP status and writes the standard
// error envelope. Internal errors omit the description so infrastructure
// detail never leaks to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: errorToken(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = errorMessage(err)
	}
	WriteJSON(w, statusFor(code), body)
}

// DecodeJSON decodes the request body into T, writing a validation error on
// malformed input. The second return reports whether decoding succeeded.
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "malformed request body", "error", err, "path", r.URL.Path)
		}
		WriteError(w, dErrors.New(dErrors.CodeValidation, "malformed JSON body"))
		var zero T
		return zero, false
	}
	return v, true
}

func statusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation:
		return http.StatusBadRequest
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeIdempotencyConflict, dErrors.CodeIdempotencyInProgress, dErrors.CodeCancellationNotAllowed:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeTechnicalFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorToken(code dErrors.Code) string {
	switch code {
	case dErrors.CodeValidation:
		return "bad_request"
	case dErrors.CodeNotFound:
		return "not_found"
	case dErrors.CodeIdempotencyConflict:
		return "idempotency_conflict"
	case dErrors.CodeIdempotencyInProgress:
		return "idempotency_in_progress"
	case dErrors.CodeCancellationNotAllowed:
		return "cancellation_not_allowed"
	case dErrors.CodeTimeout:
		return "timeout"
	case dErrors.CodeTechnicalFailure:
		return "technical_failure"
	default:
		return "internal_error"
	}
}

func errorMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
