package quarry

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeQuery      ErrorType = "query"
	ErrorTypeBulk       ErrorType = "bulk"
)

// Error codes surfaced across the query core
const (
	ErrCodeModelNotFound      = "MODEL_NOT_FOUND"
	ErrCodeJobNotFound        = "JOB_NOT_FOUND"
	ErrCodeInvalidFilter      = "INVALID_FILTER"
	ErrCodeInvalidColumn      = "INVALID_COLUMN"
	ErrCodeInvalidOperation   = "INVALID_OPERATION"
	ErrCodeQueryExecution     = "QUERY_EXECUTION_ERROR"
	ErrCodeScopeConstruction  = "SCOPE_CONSTRUCTION_FAILED"
	ErrCodeBulkJobFailed      = "BULK_JOB_FAILED"
	ErrCodeExportFailed       = "EXPORT_FAILED"
	ErrCodeCacheError         = "CACHE_ERROR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeConnectionFailed   = "CONNECTION_FAILED"
	ErrCodeArtifactStorage    = "ARTIFACT_STORAGE_FAILED"
	ErrCodeWorkerPoolExhaust  = "WORKER_POOL_EXHAUSTED"
	ErrCodeJobBudgetExhausted = "JOB_BUDGET_EXHAUSTED"
)

// QuarryError is the unified structured error for the query core.
type QuarryError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Model   string         `json:"model,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *QuarryError) Error() string {
	message := e.Message
	if e.Cause != nil {
		message = message + ": " + e.Cause.Error()
	}
	if e.Model != "" {
		return fmt.Sprintf("[%s:%s] model %s: %s", e.Type, e.Code, e.Model, message)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, message)
}

func (e *QuarryError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to the error
func (e *QuarryError) WithDetail(key string, value any) *QuarryError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to the error
func (e *QuarryError) WithCause(cause error) *QuarryError {
	e.Cause = cause
	return e
}

// WithModel adds model context to the error
func (e *QuarryError) WithModel(model string) *QuarryError {
	e.Model = model
	return e
}

// WithField adds field context to the error
func (e *QuarryError) WithField(field string) *QuarryError {
	e.Field = field
	return e
}

// NewQuarryError creates a new QuarryError
func NewQuarryError(errorType ErrorType, code, message string) *QuarryError {
	return &QuarryError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewModelNotFoundError creates a model not found error
func NewModelNotFoundError(model string) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeModelNotFound,
		Message: "model not registered",
		Model:   model,
		Details: make(map[string]any),
	}
}

// NewJobNotFoundError creates a job not found error
func NewJobNotFoundError(jobID string) *QuarryError {
	return NewQuarryError(ErrorTypeNotFound, ErrCodeJobNotFound, "bulk job not found").
		WithDetail("job_id", jobID)
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewQueryExecutionError creates a query execution error
func NewQueryExecutionError(message string, cause error) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeExecution,
		Code:    ErrCodeQueryExecution,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewScopeConstructionError creates a scope construction error. This is one
// of the few unrecoverable errors: it terminates the operation that raised it.
func NewScopeConstructionError(message string, cause error) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeQuery,
		Code:    ErrCodeScopeConstruction,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewBulkJobError creates a bulk job failure error
func NewBulkJobError(message string, cause error) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeBulk,
		Code:    ErrCodeBulkJobFailed,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewExportError creates an export failure error
func NewExportError(message string, cause error) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeBulk,
		Code:    ErrCodeExportFailed,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewCacheError creates a cache error
func NewCacheError(message string, cause error) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeCacheError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *QuarryError {
	return &QuarryError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// IsNotFoundError checks if an error is a not-found error
func IsNotFoundError(err error) bool {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Type == ErrorTypeNotFound
	}
	return false
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Type == ErrorTypeValidation
	}
	return false
}

// IsExecutionError checks if an error is a query execution error
func IsExecutionError(err error) bool {
	var qe *QuarryError
	if errors.As(err, &qe) {
		return qe.Type == ErrorTypeExecution
	}
	return false
}
