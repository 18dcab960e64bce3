// Package errors provides structured error types for taxidash.
// Every error carries a category, a code, a message and a retryable flag so
// that the loader, the query façade and the HTTP layer classify failures the
// same way.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the component that raised them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategorySource     ErrorCategory = "SOURCE"
	ErrCategoryEngine     ErrorCategory = "ENGINE"
	ErrCategoryDataset    ErrorCategory = "DATASET"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidDescriptor = "INVALID_DESCRIPTOR"
	CodeInvalidMonthCount = "INVALID_MONTH_COUNT"
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"

	// Source codes
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeObjectNotFound    = "OBJECT_NOT_FOUND"
	CodeDownloadFailed    = "DOWNLOAD_FAILED"

	// Engine codes
	CodeNotInitialized        = "NOT_INITIALIZED"
	CodeDuplicateRegistration = "DUPLICATE_REGISTRATION"
	CodeDecodeFailed          = "DECODE_FAILED"
	CodeSchemaMismatch        = "SCHEMA_MISMATCH"
	CodeBufferNotFound        = "BUFFER_NOT_FOUND"

	// Dataset codes
	CodeNoDataAvailable = "NO_DATA_AVAILABLE"

	// Query codes
	CodeQueryFailed = "QUERY_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is. Matching is on category and code only, so any
// error built with the same pair (whatever its message) matches.
var (
	ErrNotInitialized        = New(ErrCategoryEngine, CodeNotInitialized, "engine not initialized")
	ErrDuplicateRegistration = New(ErrCategoryEngine, CodeDuplicateRegistration, "duplicate registration")
	ErrSourceUnavailable     = New(ErrCategorySource, CodeSourceUnavailable, "source unavailable")
	ErrNoDataAvailable       = New(ErrCategoryDataset, CodeNoDataAvailable, "no data available")
	ErrQueryFailed           = New(ErrCategoryQuery, CodeQueryFailed, "query failed")
)

// TaxiError is the structured error type used throughout the system.
type TaxiError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *TaxiError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *TaxiError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *TaxiError) Is(target error) bool {
	var t *TaxiError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new TaxiError.
func New(category ErrorCategory, code, message string) *TaxiError {
	return &TaxiError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new TaxiError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *TaxiError {
	return &TaxiError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *TaxiError) WithDetails(details map[string]interface{}) *TaxiError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// Nothing in taxidash retries on its own; the flag only informs callers.
func IsRetryable(err error) bool {
	var te *TaxiError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a TaxiError.
func GetCategory(err error) ErrorCategory {
	var te *TaxiError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a TaxiError.
func GetCode(err error) string {
	var te *TaxiError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySource && code == CodeDownloadFailed:
		return true
	case category == ErrCategorySource && code == CodeSourceUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *TaxiError {
	return New(ErrCategoryValidation, code, message)
}

func NewSourceError(code, message string, cause error) *TaxiError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewEngineError(code, message string, cause error) *TaxiError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewDatasetError(code, message string) *TaxiError {
	return New(ErrCategoryDataset, code, message)
}

// NewQueryError wraps an engine error. The driver's error stays reachable
// through errors.Unwrap and is printed verbatim after the message.
func NewQueryError(message string, cause error) *TaxiError {
	return Wrap(ErrCategoryQuery, CodeQueryFailed, message, cause)
}

func NewInternalError(message string, cause error) *TaxiError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// NotInitialized returns an ErrNotInitialized-matching error naming the
// operation that was attempted too early.
func NotInitialized(op string) *TaxiError {
	return New(ErrCategoryEngine, CodeNotInitialized, op+": engine not initialized")
}
