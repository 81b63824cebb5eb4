package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the pipeline taxonomy. The Code is the machine-readable
// reason surfaced to audit; terminal rejections must never collapse distinct
// reasons into a generic error.
var (
	ErrIntegrityMismatch     = NewError("INTEGRITY_MISMATCH", "constitutional hash mismatch", http.StatusForbidden).AsFatal()
	ErrIntegrityMissing      = NewError("INTEGRITY_MISSING", "constitutional hash missing", http.StatusForbidden).AsFatal()
	ErrRoleViolation         = NewError("ROLE_VIOLATION", "action not permitted for role", http.StatusForbidden).AsFatal()
	ErrPolicyDenied          = NewError("POLICY_DENIED", "policy evaluation denied the message", http.StatusForbidden).AsFatal()
	ErrPolicyEvaluation      = NewError("POLICY_EVALUATION_ERROR", "policy evaluation failed", http.StatusBadGateway)
	ErrDeliberationTimeout   = NewError("DELIBERATION_TIMEOUT", "deliberation wait bound exceeded", http.StatusGatewayTimeout).AsFatal()
	ErrDependencyUnavailable = NewError("DEPENDENCY_UNAVAILABLE", "dependency unavailable", http.StatusServiceUnavailable)

	ErrNotFound     = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation   = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal     = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrConflict     = NewError("CONFLICT", "resource conflict", http.StatusConflict)
	ErrUnauthorized = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return e.Code != ErrValidation.Code && e.Code != ErrNotFound.Code
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrValidation.Code || e.Code == ErrNotFound.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	if err.Details == nil {
		err.Details = make(map[string]interface{})
	}
	err.Details[key] = value
	return &err
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	err := *e
	err.Details = details
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// ReasonCode extracts the machine-readable reason from an error, falling back
// to INTERNAL_ERROR for foreign error types.
func ReasonCode(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

func IsCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsIntegrity(err error) bool {
	return IsCode(err, ErrIntegrityMismatch.Code) || IsCode(err, ErrIntegrityMissing.Code)
}

func IsRoleViolation(err error) bool {
	return IsCode(err, ErrRoleViolation.Code)
}

func IsPolicyDenied(err error) bool {
	return IsCode(err, ErrPolicyDenied.Code)
}

func IsNotFound(err error) bool {
	return IsCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return IsCode(err, ErrValidation.Code)
}

func IsConflict(err error) bool {
	return IsCode(err, ErrConflict.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
