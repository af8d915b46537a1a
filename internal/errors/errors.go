// Package errors provides error handling utilities for the CloudVault gateway.
// It includes error wrapping, classification, and HTTP status mapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	// Stack capture configuration.
	stackSkipFrames = 2  // Number of stack frames to skip when capturing
	maxStackDepth   = 10 // Maximum stack depth to capture

	// Error types for classification.
	TypeConfig        ErrorType = "CONFIG"
	TypeValidation    ErrorType = "VALIDATION"
	TypeNotFound      ErrorType = "NOT_FOUND"
	TypeUnauthorized  ErrorType = "UNAUTHORIZED"
	TypeForbidden     ErrorType = "FORBIDDEN"
	TypeConflict      ErrorType = "CONFLICT"
	TypeRateLimit     ErrorType = "RATE_LIMIT"
	TypeMediaRejected ErrorType = "MEDIA_REJECTED"
	TypeTimeout       ErrorType = "TIMEOUT"
	TypeStalled       ErrorType = "STALLED"
	TypeUpstream      ErrorType = "UPSTREAM"
	TypeInternal      ErrorType = "INTERNAL"
)

// Severity levels for logging and alerting.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// GatewayError is the base error type for all gateway errors.
type GatewayError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Stack      []string               `json:"stack,omitempty"`
	Severity   Severity               `json:"severity"`
	Retryable  bool                   `json:"retryable"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
	Component  string                 `json:"component,omitempty"`
	Operation  string                 `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	var b strings.Builder

	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		b.WriteString("] ")
	}

	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}

	b.WriteString(string(e.Type))
	b.WriteString(": ")
	b.WriteString(e.Message)

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

// Unwrap returns the underlying cause of the error.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}

	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context information to the error.
func (e *GatewayError) WithContext(key string, value interface{}) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}

	e.Context[key] = value

	return e
}

// WithOperation sets the operation that caused the error.
func (e *GatewayError) WithOperation(operation string) *GatewayError {
	e.Operation = operation

	return e
}

// WithComponent sets the component that generated the error.
func (e *GatewayError) WithComponent(component string) *GatewayError {
	e.Component = component

	return e
}

// WithHTTPStatus sets the HTTP status code for the error.
func (e *GatewayError) WithHTTPStatus(status int) *GatewayError {
	e.HTTPStatus = status

	return e
}

// WithRetryAfter sets the number of seconds the caller should wait before retrying.
func (e *GatewayError) WithRetryAfter(seconds int) *GatewayError {
	e.RetryAfter = seconds
	e.Retryable = true

	return e
}

// AsRetryable marks the error as retryable.
func (e *GatewayError) AsRetryable() *GatewayError {
	e.Retryable = true

	return e
}

// New creates a new GatewayError with stack trace.
func New(errType ErrorType, message string) *GatewayError {
	return &GatewayError{
		Type:      errType,
		Message:   message,
		Stack:     captureStack(stackSkipFrames),
		Severity:  getSeverityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, message string) *GatewayError {
	if err == nil {
		return nil
	}

	// If it's already a GatewayError, preserve its properties
	var ge *GatewayError
	if errors.As(err, &ge) {
		return &GatewayError{
			Type:       ge.Type,
			Message:    message,
			Cause:      ge,
			Context:    ge.Context,
			Stack:      captureStack(stackSkipFrames),
			Severity:   ge.Severity,
			Retryable:  ge.Retryable,
			HTTPStatus: ge.HTTPStatus,
			RetryAfter: ge.RetryAfter,
			Component:  ge.Component,
			Operation:  ge.Operation,
		}
	}

	// Otherwise, create a new internal error
	return &GatewayError{
		Type:      TypeInternal,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  SeverityMedium,
		Retryable: false,
	}
}

// WrapWithType wraps an error with a specific type.
func WrapWithType(err error, errType ErrorType, message string) *GatewayError {
	if err == nil {
		return nil
	}

	return &GatewayError{
		Type:      errType,
		Message:   message,
		Cause:     err,
		Stack:     captureStack(stackSkipFrames),
		Severity:  getSeverityForType(errType),
		Retryable: isRetryableType(errType),
	}
}

// Wrapf wraps an error with formatted message.
func Wrapf(err error, format string, args ...interface{}) *GatewayError {
	if err == nil {
		return nil
	}

	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsType checks if an error is of a specific type.
func IsType(err error, errType ErrorType) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Type == errType
	}

	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}

	// Check for standard retryable errors
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check for temporary network errors
	if temp, ok := err.(interface{ Temporary() bool }); ok {
		return temp.Temporary()
	}

	return false
}

// RetryAfterSeconds returns the retry-after hint of a rate-limit error, or 0.
func RetryAfterSeconds(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) && ge.Type == TypeRateLimit {
		return ge.RetryAfter
	}

	return 0
}

func getErrorTypeStatusMap() map[ErrorType]int {
	return map[ErrorType]int{
		TypeConfig:        http.StatusInternalServerError,
		TypeValidation:    http.StatusBadRequest,
		TypeNotFound:      http.StatusNotFound,
		TypeUnauthorized:  http.StatusUnauthorized,
		TypeForbidden:     http.StatusForbidden,
		TypeConflict:      http.StatusConflict,
		TypeRateLimit:     http.StatusTooManyRequests,
		TypeMediaRejected: http.StatusInternalServerError,
		TypeTimeout:       http.StatusInternalServerError,
		TypeStalled:       http.StatusInternalServerError,
		TypeUpstream:      http.StatusInternalServerError,
		TypeInternal:      http.StatusInternalServerError,
	}
}

// GetHTTPStatus returns the appropriate HTTP status code for an error.
func GetHTTPStatus(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) && ge.HTTPStatus > 0 {
		return ge.HTTPStatus
	}

	// Get error type and look up status code
	statusMap := getErrorTypeStatusMap()
	for errType, status := range statusMap {
		if IsType(err, errType) {
			return status
		}
	}

	return http.StatusInternalServerError
}

// Helper functions.

func captureStack(skip int) []string {
	var stack []string

	for i := skip; i < skip+maxStackDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn != nil {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

func getSeverityForType(errType ErrorType) Severity {
	switch errType {
	case TypeConfig:
		return SeverityCritical
	case TypeInternal, TypeUpstream:
		return SeverityHigh
	case TypeTimeout, TypeStalled:
		return SeverityMedium
	case TypeUnauthorized, TypeForbidden:
		return SeverityMedium
	case TypeValidation, TypeNotFound, TypeConflict, TypeRateLimit, TypeMediaRejected:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case TypeRateLimit, TypeUpstream:
		return true
	default:
		return false
	}
}

// Convenience functions for creating common errors

func NewConfigError(message string) *GatewayError {
	return New(TypeConfig, message)
}

func NewValidationError(message string) *GatewayError {
	return New(TypeValidation, message).WithHTTPStatus(http.StatusBadRequest)
}

func NewNotFoundError(resource string) *GatewayError {
	return New(TypeNotFound, resource+" not found").WithHTTPStatus(http.StatusNotFound)
}

func NewUnauthorizedError(message string) *GatewayError {
	return New(TypeUnauthorized, message).WithHTTPStatus(http.StatusUnauthorized)
}

func NewForbiddenError(message string) *GatewayError {
	return New(TypeForbidden, message).WithHTTPStatus(http.StatusForbidden)
}

func NewConflictError(message string) *GatewayError {
	return New(TypeConflict, message).WithHTTPStatus(http.StatusConflict)
}

func NewInternalError(message string) *GatewayError {
	return New(TypeInternal, message).WithHTTPStatus(http.StatusInternalServerError)
}

func NewRateLimitError(message string, retryAfter int) *GatewayError {
	return New(TypeRateLimit, message).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryAfter(retryAfter)
}

func NewMediaRejectedError(message string, cause error) *GatewayError {
	return WrapWithType(cause, TypeMediaRejected, message)
}

func NewTimeoutError(operation string, cause error) *GatewayError {
	if cause != nil {
		return WrapWithType(cause, TypeTimeout, "operation "+operation+" timed out").
			WithOperation(operation)
	}

	return New(TypeTimeout, "operation "+operation+" timed out").
		WithOperation(operation)
}

func NewStalledError(operation string) *GatewayError {
	return New(TypeStalled, "operation "+operation+" stalled with no progress").
		WithOperation(operation)
}

func NewUpstreamError(message string, cause error) *GatewayError {
	return WrapWithType(cause, TypeUpstream, message).
		WithHTTPStatus(http.StatusInternalServerError)
}
