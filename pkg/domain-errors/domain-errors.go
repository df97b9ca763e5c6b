package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"
	CodeRateLimited  Code = "rate_limited"

	// L402 protocol error codes. Each maps to one short-circuit step of the
	// token verifier so the HTTP layer can report a precise reason tag.
	CodeMalformedCredential Code = "malformed_credential"
	CodeInvalidSignature    Code = "invalid_signature"
	CodeExpired             Code = "expired"
	CodeSecretMismatch      Code = "secret_mismatch"
	CodeNotPaid             Code = "not_paid"
	CodeAmountMismatch      Code = "amount_mismatch"
	CodeWrongAction         Code = "wrong_action"
	CodeAlreadyConsumed     Code = "already_consumed"

	// Settlement infrastructure errors are distinct from protocol errors so
	// callers can decide to retry.
	CodeOracleUnavailable Code = "oracle_unavailable"

	// Claim business-rule rejections. Callers branch on these; they are not
	// failures that need alerting.
	CodeAlreadyClaimed   Code = "already_claimed"
	CodeAlreadyCompleted Code = "already_completed"
	CodeJobDeleted       Code = "job_deleted"
	CodeJobCancelled     Code = "job_cancelled"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		// Preserve the original domain code, update message
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the domain code carried by err, or CodeInternal when err is
// not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
