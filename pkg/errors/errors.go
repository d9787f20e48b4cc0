// Package errors defines the categorised application errors used across the
// service. Hard failures (source outages, storage, precondition violations) are
// returned as *AppError; soft failures never leave the extraction pipeline as
// errors.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategorySource        ErrorCategory = "source"
	CategoryMapping       ErrorCategory = "mapping"
	CategoryResolution    ErrorCategory = "resolution"
	CategoryConsolidation ErrorCategory = "consolidation"
	CategoryStorage       ErrorCategory = "storage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Source errors
	CodeConnectionFailed   ErrorCode = "connection_failed"
	CodeTimeout            ErrorCode = "timeout"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	CodeInvalidResponse    ErrorCode = "invalid_response"

	// Mapping errors
	CodeInvalidPath    ErrorCode = "invalid_path"
	CodeInvalidMapping ErrorCode = "invalid_mapping"

	// Resolution errors
	CodeExtractorNotFound ErrorCode = "extractor_not_found"
	CodeProccodeNotFound  ErrorCode = "proccode_not_found"

	// Consolidation errors
	CodePreviewRequired ErrorCode = "preview_required"
	CodeDayFailed       ErrorCode = "day_failed"
	CodeBatchNotFound   ErrorCode = "batch_not_found"

	// Storage errors
	CodeDatabaseError  ErrorCode = "database_error"
	CodeMigrationError ErrorCode = "migration_error"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Validation errors
	CodeInvalidDate  ErrorCode = "invalid_date"
	CodeMissingField ErrorCode = "missing_field"
	CodeOutOfRange   ErrorCode = "out_of_range"
	CodeInvalidValue ErrorCode = "invalid_value"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// AppError is the base error type for all application errors
type AppError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *AppError) GetExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryConfiguration, CategoryMapping, CategoryResolution:
		return 3
	case CategorySource:
		return 4
	case CategoryConsolidation:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AppError
func New(category ErrorCategory, code ErrorCode, message string) *AppError {
	return &AppError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with AppError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	return &AppError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *AppError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// SourceError creates an error for a failed call to the external banking API
func SourceError(code ErrorCode, endpoint string, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check network connectivity and the source base URL"
	case CodeTimeout:
		message = fmt.Sprintf("timeout calling %s", endpoint)
		suggestion = "the banking API did not answer in time; retry the operation later"
	case CodeServiceUnavailable:
		message = fmt.Sprintf("service unavailable: %s", endpoint)
		suggestion = "the banking API rejected the request; check status and credentials"
	case CodeInvalidResponse:
		message = fmt.Sprintf("invalid response from %s", endpoint)
		suggestion = "the banking API returned a body that is not valid JSON"
	default:
		message = fmt.Sprintf("source error: %s", endpoint)
		suggestion = "check the source connection and try again"
	}

	return build(CategorySource, code, message, err).
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// MappingError creates an error for an invalid mapping definition
func MappingError(code ErrorCode, subject string, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodeInvalidPath:
		message = fmt.Sprintf("invalid field path %q", subject)
		suggestion = "use dot separated segments without empty parts, e.g. Wfirstdata.2"
	case CodeInvalidMapping:
		message = fmt.Sprintf("invalid mapping for %s", subject)
		suggestion = "a mapping needs at least one column with a unique label"
	default:
		message = fmt.Sprintf("mapping error: %s", subject)
		suggestion = "review the template columns"
	}

	return build(CategoryMapping, code, message, err).
		WithSuggestion(suggestion).
		WithContext("subject", subject)
}

// ResolutionError creates an error raised while selecting a processor
func ResolutionError(code ErrorCode, subject string, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodeExtractorNotFound:
		message = fmt.Sprintf("no extractor registered as %q", subject)
		suggestion = "bind the template to a registered processor or to generic"
	case CodeProccodeNotFound:
		message = fmt.Sprintf("proccode %s not found", subject)
		suggestion = "check the proccode id against the catalog"
	default:
		message = fmt.Sprintf("resolution error: %s", subject)
		suggestion = "check the catalog bindings"
	}

	return build(CategoryResolution, code, message, err).
		WithSuggestion(suggestion).
		WithContext("subject", subject)
}

// ConsolidationError creates an error for a failed preview or commit
func ConsolidationError(code ErrorCode, operation string, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodePreviewRequired:
		message = fmt.Sprintf("%s requires a successful preview with the same parameters", operation)
		suggestion = "run the preview for this district, proccode and date range first"
	case CodeDayFailed:
		message = fmt.Sprintf("consolidation aborted: day %s could not be fetched", operation)
		suggestion = "nothing was stored; retry once the banking API is reachable"
	case CodeBatchNotFound:
		message = fmt.Sprintf("consolidation batch %s not found", operation)
		suggestion = "list batches to find a valid id"
	default:
		message = fmt.Sprintf("consolidation error during %s", operation)
		suggestion = "review the request parameters"
	}

	return build(CategoryConsolidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// StorageError creates a database-related error
func StorageError(code ErrorCode, operation string, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodeMigrationError:
		message = fmt.Sprintf("database migration failed during %s", operation)
		suggestion = "check the database file permissions and schema version"
	default:
		message = fmt.Sprintf("database error during %s", operation)
		suggestion = "check the database path and that it is not locked by another process"
	}

	return build(CategoryStorage, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting in the config file or as TAXRECON_ environment variable"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *AppError {
	var message, suggestion string

	switch code {
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *AppError {
	return build(CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation), err).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*AppError           `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*AppError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	switch es.Total {
	case 0:
		return "no errors"
	case 1:
		return es.Errors[0].Error()
	}

	var msgs []string
	for _, err := range es.Errors {
		msgs = append(msgs, err.Message)
	}
	return fmt.Sprintf("%d errors occurred: %s", es.Total, strings.Join(msgs, "; "))
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// AsAppError extracts an AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an AppError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return Wrap(err, category, code, message)
}
