// Package errors provides structured error handling for the retrieval core.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index/storage errors
//   - 3XX: Collaborator (network) errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIndex indicates index and storage errors.
	CategoryIndex Category = "INDEX"
	// CategoryCollaborator indicates errors from external collaborators.
	CategoryCollaborator Category = "COLLABORATOR"
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Index/storage errors (200-299)
	ErrCodeSnapshotMissing = "ERR_201_SNAPSHOT_MISSING"
	ErrCodeCorpusCorrupt   = "ERR_202_CORPUS_CORRUPT"
	ErrCodeStoreUnusable   = "ERR_203_STORE_UNUSABLE"
	ErrCodeReindexLocked   = "ERR_204_REINDEX_LOCKED"

	// Collaborator errors (300-399)
	ErrCodeCollaboratorTimeout     = "ERR_301_COLLABORATOR_TIMEOUT"
	ErrCodeCollaboratorUnavailable = "ERR_302_COLLABORATOR_UNAVAILABLE"
	ErrCodeRetrievalUnavailable    = "ERR_303_RETRIEVAL_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty    = "ERR_402_QUERY_EMPTY"
	ErrCodeUnknownScope  = "ERR_403_UNKNOWN_SCOPE"
	ErrCodeInvalidConfig = "ERR_404_INVALID_THRESHOLDS"

	// Internal errors (500-599)
	ErrCodeInternal       = "ERR_501_INTERNAL"
	ErrCodePipelineFailed = "ERR_502_PIPELINE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the leading digit of the numeric portion
	// (e.g. "3" from "ERR_301_COLLABORATOR_TIMEOUT").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIndex
	case '3':
		return CategoryCollaborator
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeRetrievalUnavailable, ErrCodePipelineFailed, ErrCodeStoreUnusable:
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
	case ErrCodeCollaboratorTimeout, ErrCodeCollaboratorUnavailable, ErrCodeReindexLocked:
		return true
	default:
		return false
	}
}
