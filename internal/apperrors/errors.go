// Package apperrors provides unified error handling for the control plane.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the handling buckets described in the
// error handling design: validation, authn/authz, not_found, conflict,
// transient, signer_unavailable, policy_error, consistency.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthenticated    Kind = "unauthenticated"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindTransient          Kind = "transient"
	KindSignerUnavailable  Kind = "signer_unavailable"
	KindPolicyError        Kind = "policy_error"
	KindConsistency        Kind = "consistency"
	KindInternal           Kind = "internal"
	KindInsufficientApprovals Kind = "insufficient_approvals"
)

// Error is a structured error carrying a machine-readable kind, an HTTP
// status, optional details, and the wrapped cause.
type Error struct {
	Kind       Kind                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails attaches a key/value pair to the error's Details map.
func (e *Error) WithDetails(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string, httpStatus int) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: httpStatus}
}

func Wrap(kind Kind, message string, httpStatus int, err error) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: httpStatus, Err: err}
}

func Validation(field, reason string) *Error {
	return New(KindValidation, "invalid input", http.StatusBadRequest).
		WithDetails("field", field).WithDetails("reason", reason)
}

func MissingParameter(param string) *Error {
	return New(KindValidation, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, message, http.StatusUnauthorized)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message, http.StatusForbidden)
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

func Conflict(message string) *Error {
	return New(KindConflict, message, http.StatusConflict)
}

func Transient(operation string, err error) *Error {
	return Wrap(KindTransient, "operation failed transiently", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

func SignerUnavailable(err error) *Error {
	return Wrap(KindSignerUnavailable, "no healthy signer backend", http.StatusServiceUnavailable, err)
}

func PolicyError(policyID string, err error) *Error {
	return Wrap(KindPolicyError, "policy evaluation failed", http.StatusOK, err).
		WithDetails("policy_id", policyID)
}

func Consistency(message string) *Error {
	return New(KindConsistency, message, http.StatusConflict)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, message, http.StatusInternalServerError, err)
}

func InsufficientApprovals(have, need int) *Error {
	return New(KindInsufficientApprovals, "insufficient approvals to apply", http.StatusBadRequest).
		WithDetails("have", have).WithDetails("need", need)
}

// IsKind reports whether err (or something it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == k
	}
	return false
}

// As extracts an *Error from an error chain, if present.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HTTPStatus returns the HTTP status to use for err, defaulting to 500.
func HTTPStatus(err error) int {
	if appErr := As(err); appErr != nil {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
