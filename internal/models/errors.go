package models

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	ErrorCodeRateLimitExceeded     ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodeCircuitOpen           ErrorCode = "CIRCUIT_OPEN"
	ErrorCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrorCodeHTTPError             ErrorCode = "HTTP_ERROR"
	ErrorCodeStaleData             ErrorCode = "STALE_DATA"
	ErrorCodeInsufficientInventory ErrorCode = "INSUFFICIENT_INVENTORY"
	ErrorCodeLockUnavailable       ErrorCode = "LOCK_UNAVAILABLE"
	ErrorCodeAuthFailure           ErrorCode = "AUTH_FAILURE"
	ErrorCodeValidationError       ErrorCode = "VALIDATION_ERROR"
	ErrorCodeJobNotFound           ErrorCode = "JOB_NOT_FOUND"
	ErrorCodeInternalError         ErrorCode = "INTERNAL_ERROR"
)

const (
	ProblemTypeValidationError = "validation-error"
	ProblemTypeBusinessError   = "business-logic-error"
	ProblemTypeNotFound        = "not-found"
	ProblemTypeInternalError   = "internal-error"
)

// RateLimitError means the rate-limited client exhausted its retries on 429s
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d attempts", e.Attempts)
}

// CircuitOpenError means the breaker for an integration key is open and the
// call was short-circuited without reaching the network
type CircuitOpenError struct {
	Key string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for integration %q", e.Key)
}

// NetworkError wraps transport-level failures (timeouts, resets, DNS)
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// HTTPError carries a non-2xx marketplace response the client did not retry
// past (4xx immediately, 5xx after retries)
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("marketplace returned status %d", e.Status)
}

// StaleDataError is an optimistic-lock violation: the external level moved
// between the caller's read and its write. Actual carries the current value
// so the caller can re-decide.
type StaleDataError struct {
	Expected int
	Actual   int
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale data: expected available %d, actual %d", e.Expected, e.Actual)
}

// InsufficientInventoryError means the requested delta would drive the
// external level negative; no write was performed
type InsufficientInventoryError struct {
	Current int
	Delta   int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: current %d, delta %d", e.Current, e.Delta)
}

// LockUnavailableError means one or more SKUs could not be locked
type LockUnavailableError struct {
	Skus []string
}

func (e *LockUnavailableError) Error() string {
	return fmt.Sprintf("locks unavailable for %d sku(s)", len(e.Skus))
}

// AuthFailureError means token acquisition failed for a marketplace account;
// it short-circuits every remaining job for that account in the batch
type AuthFailureError struct {
	AccountRef string
	Cause      error
}

func (e *AuthFailureError) Error() string {
	return fmt.Sprintf("auth failure for account %q: %v", e.AccountRef, e.Cause)
}

func (e *AuthFailureError) Unwrap() error {
	return e.Cause
}

// Error type guards

func IsRateLimitError(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}

func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

func IsStaleData(err error) bool {
	var target *StaleDataError
	return errors.As(err, &target)
}

func IsInsufficientInventory(err error) bool {
	var target *InsufficientInventoryError
	return errors.As(err, &target)
}

func IsAuthFailure(err error) bool {
	var target *AuthFailureError
	return errors.As(err, &target)
}

func IsLockUnavailable(err error) bool {
	var target *LockUnavailableError
	return errors.As(err, &target)
}

// IsRetryable classifies an error for the queue's retry path. Transient
// classes re-queue with backoff; everything else is terminal for the job.
func IsRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	if IsNetworkError(err) || IsRateLimitError(err) || IsCircuitOpen(err) {
		return true
	}
	return false
}

// GetErrorCode extracts the standardized code for an error value
func GetErrorCode(err error) ErrorCode {
	switch {
	case IsRateLimitError(err):
		return ErrorCodeRateLimitExceeded
	case IsCircuitOpen(err):
		return ErrorCodeCircuitOpen
	case IsNetworkError(err):
		return ErrorCodeNetworkError
	case IsStaleData(err):
		return ErrorCodeStaleData
	case IsInsufficientInventory(err):
		return ErrorCodeInsufficientInventory
	case IsAuthFailure(err):
		return ErrorCodeAuthFailure
	default:
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return ErrorCodeHTTPError
		}
		return ErrorCodeInternalError
	}
}

// ProblemDetails is the RFC 7807 style error body returned by the HTTP API
type ProblemDetails struct {
	Type   string      `json:"type"`
	Title  string      `json:"title"`
	Status int         `json:"status"`
	Detail string      `json:"detail,omitempty"`
	Field  string      `json:"field,omitempty"`
	Code   string      `json:"code,omitempty"`
	Errors interface{} `json:"errors,omitempty"`
}

// ValidationError represents a single field violation in a request body
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func NewProblemDetails(status int, title, detail string) *ProblemDetails {
	return &ProblemDetails{
		Type:   problemTypeForStatus(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// NewValidationProblem creates a single-field validation error problem
func NewValidationProblem(field, message string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: message,
		Field:  field,
		Code:   string(code),
	}
}

// NewMultiValidationProblem creates a multi-field validation error problem
func NewMultiValidationProblem(violations []ValidationError) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeValidationError,
		Title:  "Validation Failed",
		Status: 400,
		Detail: "Multiple validation errors occurred",
		Errors: violations,
	}
}

// NewBusinessLogicProblem creates a business rule violation problem
func NewBusinessLogicProblem(status int, title, detail string, code ErrorCode) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeBusinessError,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   string(code),
	}
}

// NewNotFoundProblem creates a not found error problem
func NewNotFoundProblem(resource string) *ProblemDetails {
	return &ProblemDetails{
		Type:   ProblemTypeNotFound,
		Title:  "Resource Not Found",
		Status: 404,
		Detail: resource + " not found",
	}
}

func problemTypeForStatus(status int) string {
	switch status {
	case 400:
		return ProblemTypeValidationError
	case 404:
		return ProblemTypeNotFound
	case 409, 422:
		return ProblemTypeBusinessError
	default:
		return ProblemTypeInternalError
	}
}
