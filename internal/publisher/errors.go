package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	CodeRateLimited         = "RATE_LIMITED"
	CodePlatformUnavailable = "PLATFORM_UNAVAILABLE"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeContentRejected     = "CONTENT_REJECTED"
	CodeTimeout             = "PUBLISH_TIMEOUT"
	CodeUnknown             = "PUBLISH_ERROR"
	CodePlatformUnsupported = "PLATFORM_UNSUPPORTED"
	CodeVariantNotFound     = "VARIANT_NOT_FOUND"
	CodeConnectionNotFound  = "CONNECTION_NOT_FOUND"
	CodeAttemptTimeout      = "ATTEMPT_TIMEOUT"
)

// ClassifiedError 已归类的发布失败
type ClassifiedError struct {
	Code        string
	Message     string
	Retryable   bool
	RawResponse string
	// RetryAfter 平台给出的最短重试间隔（如 HTTP 429 Retry-After）
	RetryAfter time.Duration
	cause      error
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

// Retryable 可重试错误
func Retryable(code, msg string, cause error) *ClassifiedError {
	return &ClassifiedError{Code: code, Message: msg, Retryable: true, cause: cause}
}

// Permanent 不可重试错误
func Permanent(code, msg string, cause error) *ClassifiedError {
	return &ClassifiedError{Code: code, Message: msg, cause: cause}
}

// Classify 将任意错误转换为 *ClassifiedError；未知错误视为可重试
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(CodeTimeout, "publish call timed out", err)
	}
	return Retryable(CodeUnknown, err.Error(), nil)
}

// ClassifyHTTP 按平台 HTTP 响应码归类
func ClassifyHTTP(status int, header http.Header, body string) *ClassifiedError {
	var e *ClassifiedError
	switch {
	case status == http.StatusTooManyRequests:
		e = Retryable(CodeRateLimited, "platform rate limit exceeded", nil)
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	case status >= 500:
		e = Retryable(CodePlatformUnavailable, fmt.Sprintf("platform returned %d", status), nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = Permanent(CodeTokenInvalid, "access token invalid or expired", nil)
	case status >= 400:
		e = Permanent(CodeContentRejected, fmt.Sprintf("platform rejected content with %d", status), nil)
	default:
		return nil
	}
	e.RawResponse = body
	return e
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
