package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrNotFound     = errors.New("not found")
	ErrAuthFailure  = errors.New("authentication failure")
	ErrTransient    = errors.New("transient failure")
	ErrIntegrity    = errors.New("integrity failure")
	ErrInvalidInput = errors.New("invalid input")
	ErrSystem       = errors.New("system error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeTransient  ErrorType = "transient"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeIntegrity  ErrorType = "integrity"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSystem     ErrorType = "system"
)

// ScanError is a structured error for oversight operations
type ScanError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "custodian.refresh", "fetch_recent_videos")
	Account    int64  // Linked account ID when known, 0 otherwise
	Err        error  // Underlying error
	StatusCode int    // Upstream HTTP status code if applicable
	Timestamp  time.Time
	Retryable  bool
}

func (e *ScanError) Error() string {
	if e.Account != 0 {
		return fmt.Sprintf("%s failed for account %d: %v", e.Op, e.Account, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *ScanError) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check base error types
	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrAuthFailure:
		return e.Type == ErrorTypeAuth
	case ErrTransient:
		return e.Type == ErrorTypeTransient
	case ErrIntegrity:
		return e.Type == ErrorTypeIntegrity
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrSystem:
		return e.Type == ErrorTypeSystem
	}

	// Check wrapped error
	return errors.Is(e.Err, target)
}

// Redacted returns a caller-safe message: the operation and category without the
// underlying error text, which may carry provider payloads.
func (e *ScanError) Redacted() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: %s (status %d)", e.Op, e.Type, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Type)
}

// NewScanError creates a new ScanError
func NewScanError(errorType ErrorType, op string, err error) *ScanError {
	return &ScanError{
		Type:      errorType,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: errorType == ErrorTypeTransient,
	}
}

// WithAccount adds the linked account ID to the error
func (e *ScanError) WithAccount(id int64) *ScanError {
	e.Account = id
	return e
}

// WithStatusCode adds the upstream HTTP status code and reclassifies retryability
func (e *ScanError) WithStatusCode(code int) *ScanError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 || code == 403 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// ClassifyStatus maps an upstream HTTP status to an error category.
// 401 means the credential is bad; 403 is quota exhaustion on the platform API,
// which recovers on its own; 404 means the resource vanished upstream.
func ClassifyStatus(code int) ErrorType {
	switch {
	case code == 401:
		return ErrorTypeAuth
	case code == 404:
		return ErrorTypeNotFound
	case code == 403 || code == 408 || code == 429 || code >= 500:
		return ErrorTypeTransient
	default:
		return ErrorTypeSystem
	}
}

// Helper functions

// WrapAuthError wraps a credential failure with context
func WrapAuthError(op string, err error) *ScanError {
	return NewScanError(ErrorTypeAuth, op, err)
}

// WrapTransientError wraps a retryable upstream failure with context
func WrapTransientError(op string, err error) *ScanError {
	return NewScanError(ErrorTypeTransient, op, err)
}

// WrapNotFoundError wraps a vanished-resource failure with context
func WrapNotFoundError(op string, err error) *ScanError {
	return NewScanError(ErrorTypeNotFound, op, err)
}

// WrapIntegrityError wraps a stored-data integrity failure with context
func WrapIntegrityError(op string, err error) *ScanError {
	return NewScanError(ErrorTypeIntegrity, op, err)
}

// WrapValidationError wraps a caller-input failure with context
func WrapValidationError(op string, err error) *ScanError {
	return NewScanError(ErrorTypeValidation, op, err)
}

// WrapSystemError wraps an uncategorized failure with context
func WrapSystemError(op string, err error) *ScanError {
	return NewScanError(ErrorTypeSystem, op, err)
}

// WrapAPIError wraps an upstream API error, classifying by status code
func WrapAPIError(op string, err error, statusCode int) *ScanError {
	return NewScanError(ClassifyStatus(statusCode), op, err).WithStatusCode(statusCode)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Retryable
	}
	return errors.Is(err, ErrTransient)
}

// IsAuthFailure checks if an error is a credential failure
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}

	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		if scanErr.Type == ErrorTypeAuth {
			return true
		}
		if scanErr.StatusCode == 401 {
			return true
		}
	}

	return errors.Is(err, ErrAuthFailure)
}

// IsNotFound checks if an error means the upstream resource vanished
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Type == ErrorTypeNotFound
	}
	return errors.Is(err, ErrNotFound)
}

// IsIntegrity checks if an error is a stored-data integrity failure
func IsIntegrity(err error) bool {
	if err == nil {
		return false
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Type == ErrorTypeIntegrity
	}
	return errors.Is(err, ErrIntegrity)
}

// IsValidation checks if an error is a caller-input failure
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Type == ErrorTypeValidation
	}
	return errors.Is(err, ErrInvalidInput)
}
