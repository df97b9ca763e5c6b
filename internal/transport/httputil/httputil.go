package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "github.com/brianmurray333/ganamos-sub006/pkg/domain-errors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// best-effort fallback; don't override status for the caller
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// WriteError centralizes domain error translation to HTTP responses.
// It translates transport-agnostic domain errors into HTTP status codes and
// machine-readable reason tags.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{
			"error": string(domainErr.Code),
		}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		WriteJSON(w, CodeToHTTPStatus(domainErr.Code), response)
		return
	}

	// Fallback for unexpected errors
	WriteJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

// CodeToHTTPStatus translates domain error codes to HTTP status codes.
func CodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests

	// Protocol failures at the payment gate are authentication failures.
	case dErrors.CodeMalformedCredential,
		dErrors.CodeInvalidSignature,
		dErrors.CodeExpired,
		dErrors.CodeSecretMismatch,
		dErrors.CodeNotPaid,
		dErrors.CodeAmountMismatch,
		dErrors.CodeWrongAction,
		dErrors.CodeAlreadyConsumed:
		return http.StatusUnauthorized

	// Claim rejections are client-correctable business-rule outcomes.
	case dErrors.CodeAlreadyClaimed,
		dErrors.CodeAlreadyCompleted,
		dErrors.CodeJobDeleted,
		dErrors.CodeJobCancelled:
		return http.StatusBadRequest

	case dErrors.CodeOracleUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
