// Package apierr provides unified error handling for the control plane's
// agent and administrator HTTP surfaces.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Code is a unique, wire-stable error code surfaced in the JSON error body.
type Code string

const (
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeInvalidPlatform     Code = "INVALID_PLATFORM"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeReplayAttack        Code = "REPLAY_ATTACK"
	CodeDeviceNotFound      Code = "DEVICE_NOT_FOUND"
	CodeTaskNotFound        Code = "TASK_NOT_FOUND"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeCommandNotFound     Code = "COMMAND_NOT_FOUND"
	CodeInvalidCommandType  Code = "INVALID_COMMAND_TYPE"
	CodeForbidden           Code = "FORBIDDEN"
	CodeBatchTooLarge       Code = "BATCH_TOO_LARGE"
	CodeDatabaseError       Code = "DATABASE_ERROR"
	CodeCryptoError         Code = "CRYPTO_ERROR"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// APIError is a structured error with a wire code, message, and HTTP status.
type APIError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	// Headers carries response headers the HTTP layer must set alongside
	// the JSON body (e.g. Retry-After on a 429), per spec.md §7.
	Headers map[string]string `json:"-"`
	Err     error              `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair to the error's Details map.
func (e *APIError) WithDetails(key string, value interface{}) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithHeader attaches a response header the HTTP layer must set when
// writing this error.
func (e *APIError) WithHeader(key, value string) *APIError {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code Code, message string, httpStatus int, err error) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// Request validation errors

func InvalidRequest(reason string) *APIError {
	return New(CodeInvalidRequest, "Invalid request", http.StatusBadRequest).WithDetails("reason", reason)
}

func InvalidPlatform(platform string) *APIError {
	return New(CodeInvalidPlatform, "Unsupported platform", http.StatusBadRequest).WithDetails("platform", platform)
}

func BatchTooLarge(limit, got int) *APIError {
	return New(CodeBatchTooLarge, "Batch exceeds the allowed size", http.StatusBadRequest).
		WithDetails("limit", limit).
		WithDetails("count", got)
}

// Authentication / authorization errors

func InvalidToken(err error) *APIError {
	return Wrap(CodeInvalidToken, "Invalid or unknown enrollment token", http.StatusUnauthorized, err)
}

func InvalidSignature(err error) *APIError {
	return Wrap(CodeInvalidSignature, "Signature verification failed", http.StatusUnauthorized, err)
}

func ReplayAttack(nonce string) *APIError {
	return New(CodeReplayAttack, "Nonce has already been used", http.StatusUnauthorized).WithDetails("nonce", nonce)
}

func Forbidden(message string) *APIError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// Resource errors

func DeviceNotFound(id string) *APIError {
	return New(CodeDeviceNotFound, "Device not found", http.StatusNotFound).WithDetails("device_id", id)
}

func TaskNotFound(id string) *APIError {
	return New(CodeTaskNotFound, "Task not found", http.StatusNotFound).WithDetails("task_id", id)
}

func CommandNotFound(id string) *APIError {
	return New(CodeCommandNotFound, "Command not found", http.StatusNotFound).WithDetails("command_id", id)
}

func InvalidCommandType(cmdType string) *APIError {
	return New(CodeInvalidCommandType, "Unsupported command type", http.StatusBadRequest).WithDetails("type", cmdType)
}

// Rate limiting

// RateLimitExceeded builds the 429 returned when a device exceeds its
// per-endpoint request budget. remaining and resetMS (the decision's
// window-reset instant, epoch milliseconds) populate both the JSON
// details and the Retry-After/X-RateLimit-* response headers spec.md §7
// requires on every rate-limited response.
func RateLimitExceeded(limit int, window string, remaining int, resetMS int64) *APIError {
	retryAfter := time.Until(time.UnixMilli(resetMS))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window).
		WithDetails("remaining", remaining).
		WithDetails("reset_ms", resetMS).
		WithHeader("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds()))).
		WithHeader("X-RateLimit-Remaining", strconv.Itoa(remaining)).
		WithHeader("X-RateLimit-Reset", strconv.FormatInt(resetMS, 10))
}

// Infrastructure errors

func Internal(message string, err error) *APIError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *APIError {
	return Wrap(CodeDatabaseError, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func CryptoError(operation string, err error) *APIError {
	return Wrap(CodeCryptoError, "Cryptographic operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// Helper functions

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Get extracts the *APIError from an error chain, or nil.
func Get(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}

// HTTPStatus returns the HTTP status code for err, defaulting to 500 when
// err is not an *APIError.
func HTTPStatus(err error) int {
	if apiErr := Get(err); apiErr != nil {
		return apiErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
