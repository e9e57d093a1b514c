// Package errors provides structured error handling for qamatch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors
//   - 3XX: Upstream dependency errors (sources, embedding and LLM providers)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index store errors.
	CategoryStorage Category = "STORAGE"
	// CategoryUpstream indicates a failing dependency.
	CategoryUpstream Category = "UPSTREAM"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigInvalid  = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound = "ERR_102_CONFIG_NOT_FOUND"

	// Storage errors (200-299)
	ErrCodeStoreFailed  = "ERR_201_STORE_FAILED"
	ErrCodeCorruptIndex = "ERR_202_CORRUPT_INDEX"
	ErrCodeStoreClosed  = "ERR_203_STORE_CLOSED"

	// Upstream errors (300-399)
	ErrCodeSourceUnavailable = "ERR_301_SOURCE_UNAVAILABLE"
	ErrCodeEmbeddingFailed   = "ERR_302_EMBEDDING_FAILED"
	ErrCodeLLMFailed         = "ERR_303_LLM_FAILED"
	ErrCodeCircuitOpen       = "ERR_304_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_EMPTY_QUERY"
	ErrCodeInvalidMatchCount = "ERR_404_INVALID_MATCH_COUNT"
	ErrCodeQueryTooLong      = "ERR_405_QUERY_TOO_LONG"

	// Internal errors (500-599)
	ErrCodeAllSourcesUnavailable = "ERR_501_ALL_SOURCES_UNAVAILABLE"
	ErrCodeInternal              = "ERR_502_INTERNAL"
	ErrCodeRunInProgress         = "ERR_503_RUN_IN_PROGRESS"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "401" from "ERR_401_INVALID_INPUT"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUpstream
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeSourceUnavailable, ErrCodeEmbeddingFailed, ErrCodeLLMFailed, ErrCodeCircuitOpen:
		return true
	default:
		return false
	}
}
