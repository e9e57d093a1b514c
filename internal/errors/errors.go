package errors

import (
	stderrors "errors"
	"fmt"
)

// QAError is the structured error type for qamatch.
// It carries enough context for logging, HTTP/MCP mapping and CLI output.
type QAError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_INPUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code's hundreds digit.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *QAError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QAError) Unwrap() error {
	return e.Cause
}

// Is matches by code so that errors.Is(err, &QAError{Code: ...}) works.
func (e *QAError) Is(target error) bool {
	if t, ok := target.(*QAError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *QAError) WithDetail(key, value string) *QAError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *QAError) WithSuggestion(suggestion string) *QAError {
	e.Suggestion = suggestion
	return e
}

// New creates a QAError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *QAError {
	return &QAError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QAError from an existing error, reusing its message.
func Wrap(code string, err error) *QAError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *QAError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates an invalid-input error.
func ValidationError(message string, cause error) *QAError {
	return New(ErrCodeInvalidInput, message, cause)
}

// StoreError creates a storage error.
func StoreError(message string, cause error) *QAError {
	return New(ErrCodeStoreFailed, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *QAError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first QAError in err's chain.
func As(err error) (*QAError, bool) {
	var qe *QAError
	if stderrors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsRetryable reports whether err carries a retryable QAError.
func IsRetryable(err error) bool {
	if qe, ok := As(err); ok {
		return qe.Retryable
	}
	return false
}

// IsFatal reports whether err carries a fatal QAError.
func IsFatal(err error) bool {
	if qe, ok := As(err); ok {
		return qe.Severity == SeverityFatal
	}
	return false
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// HasCode reports whether any QAError in err's chain has the given code.
func HasCode(err error, code string) bool {
	return stderrors.Is(err, &QAError{Code: code})
}

// GetCode extracts the error code, or "" if err is not a QAError.
func GetCode(err error) string {
	if qe, ok := As(err); ok {
		return qe.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not a QAError.
func GetCategory(err error) Category {
	if qe, ok := As(err); ok {
		return qe.Category
	}
	return ""
}
