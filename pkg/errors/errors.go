// Package errors defines the categorized error taxonomy used across the
// reconciliation pipeline.
//
// Errors carry a category, a machine-readable code, an optional suggestion
// for the operator, and structured context. The taxonomy distinguishes
// conditions that must surface to the caller (a statement file whose header
// row cannot be located) from conditions that are expected control flow
// (column auto-detection falling through to the next mapping tier, which is
// signalled by a return value and never by an error).
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category groups errors by pipeline stage.
type Category string

const (
	CategoryFile           Category = "file"
	CategoryParse          Category = "parse"
	CategoryMapping        Category = "mapping"
	CategoryValidation     Category = "validation"
	CategoryConfiguration  Category = "configuration"
	CategoryReconciliation Category = "reconciliation"
	CategoryInternal       Category = "internal"
)

// Code identifies a specific error condition within a category.
type Code string

const (
	// File errors
	CodeFileNotFound   Code = "file_not_found"
	CodeFilePermission Code = "file_permission"
	CodeFileUnreadable Code = "file_unreadable"

	// Parse errors
	CodeMalformedXML  Code = "malformed_xml"
	CodeInvalidFormat Code = "invalid_format"
	CodeEmptyDocument Code = "empty_document"

	// Mapping errors. Header-not-found is user-actionable and must reach the
	// caller; it is never downgraded to an empty table.
	CodeHeaderNotFound  Code = "header_not_found"
	CodeMissingColumn   Code = "missing_column"
	CodeInvalidMapping  Code = "invalid_mapping"
	CodeMappingRequired Code = "manual_mapping_required"

	// Validation errors
	CodeInvalidValue Code = "invalid_value"
	CodeMissingField Code = "missing_field"

	// Configuration errors
	CodeInvalidConfig Code = "invalid_config"

	// Reconciliation errors
	CodeNoBillingItems Code = "no_billing_items"
	CodeNoStatements   Code = "no_statements"

	// Internal errors
	CodeUnexpectedError Code = "unexpected_error"
)

// Error is the base error type for the reconciliation pipeline.
type Error struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries structured details about the error.
type Context map[string]interface{}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode maps the error category to a process exit code.
func (e *Error) ExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryMapping:
		return 4
	case CategoryConfiguration:
		return 5
	case CategoryReconciliation, CategoryInternal:
		return 6
	default:
		return 1
	}
}

// WithContext attaches a context key-value pair.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches an operator-facing suggestion.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates an Error with a fresh stack trace.
func New(category Category, code Code, message string) *Error {
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with category and code context.
func Wrap(err error, category Category, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// AsError extracts a pipeline Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err is a pipeline Error carrying the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// FileError creates a file access error for the given path.
func FileError(code Code, path string, err error) *Error {
	var message, suggestion string
	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check that the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	default:
		message = fmt.Sprintf("cannot read file: %s", path)
		suggestion = "verify the file is accessible and not corrupted"
	}

	result := build(err, CategoryFile, code, message)
	return result.WithSuggestion(suggestion).WithContext("file_path", path)
}

// ParseError creates a document parsing error. Billing batches recover from
// these per file; the error still records which file failed and why.
func ParseError(code Code, file string, err error) *Error {
	var message, suggestion string
	switch code {
	case CodeMalformedXML:
		message = fmt.Sprintf("malformed billing XML: %s", file)
		suggestion = "validate the file against the TISS schema and re-export it"
	case CodeEmptyDocument:
		message = fmt.Sprintf("document contains no guides: %s", file)
		suggestion = "check that the file is a TISS billing lot with consultation or SADT guides"
	default:
		message = fmt.Sprintf("cannot parse file: %s", file)
		suggestion = "check the file format and data integrity"
	}

	result := build(err, CategoryParse, code, message)
	return result.WithSuggestion(suggestion).WithContext("file", file)
}

// MappingError creates a statement column-mapping error.
func MappingError(code Code, file string, detail string, err error) *Error {
	var message, suggestion string
	switch code {
	case CodeHeaderNotFound:
		message = fmt.Sprintf("could not locate the statement header row in %s: %s", file, detail)
		suggestion = "check that the statement is itemized and contains the expected header labels, or provide a manual column mapping"
	case CodeMissingColumn:
		message = fmt.Sprintf("statement %s is missing required column: %s", file, detail)
		suggestion = "map the missing column manually or export the statement with all columns"
	case CodeInvalidMapping:
		message = fmt.Sprintf("invalid column mapping for %s: %s", file, detail)
		suggestion = "re-create the mapping; the referenced columns no longer exist in the file"
	case CodeMappingRequired:
		message = fmt.Sprintf("statement %s needs a manual column mapping: %s", file, detail)
		suggestion = "declare the field-to-column correspondence and save it to the mapping store"
	default:
		message = fmt.Sprintf("mapping error for %s: %s", file, detail)
		suggestion = "review the statement layout and mapping configuration"
	}

	result := build(err, CategoryMapping, code, message)
	return result.WithSuggestion(suggestion).WithContext("file", file).WithContext("detail", detail)
}

// ValidationError creates a field validation error.
func ValidationError(code Code, field string, value interface{}, err error) *Error {
	var message, suggestion string
	switch code {
	case CodeInvalidValue:
		message = fmt.Sprintf("invalid value in field %q: %v", field, value)
		suggestion = "check the field value and format"
	case CodeMissingField:
		message = fmt.Sprintf("required field %q is missing or empty", field)
		suggestion = "provide a value for this required field"
	default:
		message = fmt.Sprintf("validation error in field %q: %v", field, value)
		suggestion = "check the field value and format"
	}

	result := build(err, CategoryValidation, code, message)
	return result.WithSuggestion(suggestion).WithContext("field", field).WithContext("value", value)
}

// ConfigurationError creates a configuration error.
func ConfigurationError(setting string, value interface{}, err error) *Error {
	message := fmt.Sprintf("invalid configuration for %q: %v", setting, value)
	result := build(err, CategoryConfiguration, CodeInvalidConfig, message)
	return result.
		WithSuggestion("check the flag or configuration file value").
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates a reconciliation-stage error.
func ReconciliationError(code Code, operation string, err error) *Error {
	var message, suggestion string
	switch code {
	case CodeNoBillingItems:
		message = fmt.Sprintf("no billing items available for %s", operation)
		suggestion = "check that the XML files contain consultation or SADT guides"
	case CodeNoStatements:
		message = fmt.Sprintf("no statement rows available for %s", operation)
		suggestion = "check that at least one statement file was loaded and mapped"
	default:
		message = fmt.Sprintf("reconciliation error during %s", operation)
		suggestion = "review the input data and configuration"
	}

	result := build(err, CategoryReconciliation, code, message)
	return result.WithSuggestion(suggestion).WithContext("operation", operation)
}

// InternalError creates an internal error.
func InternalError(operation string, err error) *Error {
	message := fmt.Sprintf("unexpected error during %s", operation)
	result := build(err, CategoryInternal, CodeUnexpectedError, message)
	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

func build(err error, category Category, code Code, message string) *Error {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}
