// Package apperr 定义对调用方可见的稳定错误码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Error 携带稳定错误码的业务错误
type Error struct {
	Code       string
	Message    string
	Severity   Severity
	HTTPStatus int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is 按错误码比较，使 errors.Is(err, apperr.ErrScheduleNotFound) 成立
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage 复制错误并替换描述
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap 复制错误并附加底层原因
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

func newErr(code string, status int, msg string) *Error {
	return &Error{Code: code, Message: msg, Severity: SeverityError, HTTPStatus: status}
}

var (
	ErrRequiredFieldsMissing = newErr("SCHEDULE_REQUIRED_FIELDS_MISSING", http.StatusBadRequest, "post_variant_id, channel_connection_id and run_at are required")
	ErrVariantNotFound       = newErr("VARIANT_NOT_FOUND", http.StatusNotFound, "post variant not found")
	ErrAccessDenied          = newErr("SCHEDULE_ACCESS_DENIED", http.StatusForbidden, "access to schedule denied")
	ErrConnectionNotFound    = newErr("CHANNEL_CONNECTION_NOT_FOUND", http.StatusNotFound, "channel connection not found")
	ErrConnectionMismatch    = newErr("CHANNEL_CONNECTION_PLATFORM_MISMATCH", http.StatusBadRequest, "channel connection platform does not match the variant")
	ErrInvalidRequest        = newErr("SCHEDULE_INVALID_REQUEST", http.StatusBadRequest, "malformed request body")
	ErrTimeMustBeFuture      = newErr("SCHEDULE_TIME_MUST_BE_FUTURE", http.StatusBadRequest, "run_at must be in the future")
	ErrTimeTooFar            = newErr("SCHEDULE_TIME_TOO_FAR", http.StatusBadRequest, "run_at is too far in the future")
	ErrScheduleNotFound      = newErr("SCHEDULE_NOT_FOUND", http.StatusNotFound, "schedule not found")
	ErrCannotBeModified      = newErr("SCHEDULE_CANNOT_BE_MODIFIED", http.StatusConflict, "schedule can only be modified while pending or failed")
	ErrCannotBeCancelled     = newErr("SCHEDULE_CANNOT_BE_CANCELLED", http.StatusConflict, "schedule can only be cancelled while pending or queued")
	ErrInvalidTimezone       = newErr("SCHEDULE_INVALID_TIMEZONE", http.StatusBadRequest, "timezone is not a valid IANA zone")
	ErrInvalidFilter         = newErr("SCHEDULE_INVALID_FILTER", http.StatusBadRequest, "invalid filter")
	ErrUnauthorized          = newErr("UNAUTHORIZED", http.StatusUnauthorized, "authentication required")
	ErrInternal              = newErr("INTERNAL_ERROR", http.StatusInternalServerError, "internal error")
)

// From 将任意错误转换为 *Error，无法识别的归为 INTERNAL_ERROR
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}
