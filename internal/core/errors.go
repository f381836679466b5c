package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation    ErrorCategory = "validation"    // Invalid caller input
	ErrCatNotFound      ErrorCategory = "not_found"     // Process or binary not found
	ErrCatTimeout       ErrorCategory = "timeout"       // Operation timed out
	ErrCatExecution     ErrorCategory = "execution"     // External command failed
	ErrCatSampling      ErrorCategory = "sampling"      // Per-process sample failed
	ErrCatSerialization ErrorCategory = "serialization" // Encoding a report failed
	ErrCatInternal      ErrorCategory = "internal"      // Unexpected internal error
)

// Error codes.
const (
	CodeProcessNotFound         = "PROCESS_NOT_FOUND"
	CodeSampleFailed            = "SAMPLE_FAILED"
	CodeProbeTimeout            = "PROBE_TIMEOUT"
	CodeProbeNotFound           = "PROBE_NOT_FOUND"
	CodeProbeFailed             = "PROBE_FAILED"
	CodeExportFormatUnsupported = "EXPORT_FORMAT_UNSUPPORTED"
	CodeSerializationFailed     = "SERIALIZATION_FAILED"
	CodeExportFailed            = "EXPORT_FAILED"
	CodeInvalidInput            = "INVALID_INPUT"
)

// DomainError represents a structured error from the diagnostics layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrProcessLookup reports that a pid did not exist when monitoring was requested.
func ErrProcessLookup(pid int32) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeProcessNotFound,
		Message:   fmt.Sprintf("no process with pid %d", pid),
		Retryable: false,
		Details:   map[string]interface{}{"pid": pid},
	}
}

// ErrTransientSample reports a failure sampling one pid inside the sampling loop.
func ErrTransientSample(pid int32, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatSampling,
		Code:      CodeSampleFailed,
		Message:   fmt.Sprintf("sampling pid %d failed", pid),
		Retryable: true,
		Cause:     cause,
		Details:   map[string]interface{}{"pid": pid},
	}
}

// ErrProbeTimeout reports that an external command exceeded its deadline.
func ErrProbeTimeout(command string, timeout time.Duration) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeProbeTimeout,
		Message:   fmt.Sprintf("%s did not finish within %s", command, timeout),
		Retryable: true,
		Details: map[string]interface{}{
			"command": command,
			"timeout": timeout.String(),
		},
	}
}

// ErrProbeNotFound reports that a probed binary is not installed.
func ErrProbeNotFound(binary string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      CodeProbeNotFound,
		Message:   fmt.Sprintf("%s not found", binary),
		Retryable: false,
		Details:   map[string]interface{}{"binary": binary},
	}
}

// ErrProbeFailed reports that a probed command ran but exited unsuccessfully.
func ErrProbeFailed(command, output string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      CodeProbeFailed,
		Message:   fmt.Sprintf("%s failed", command),
		Retryable: false,
		Details: map[string]interface{}{
			"command": command,
			"output":  output,
		},
	}
}

// ErrExportFormatUnsupported reports an unknown export format.
func ErrExportFormatUnsupported(format string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      CodeExportFormatUnsupported,
		Message:   fmt.Sprintf("unsupported export format %q (supported: json, yaml)", format),
		Retryable: false,
		Details:   map[string]interface{}{"format": format},
	}
}

// ErrSerialization reports a failure encoding a report.
func ErrSerialization(format string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatSerialization,
		Code:      CodeSerializationFailed,
		Message:   fmt.Sprintf("encoding report as %s", format),
		Retryable: false,
		Cause:     cause,
	}
}

// ErrExport reports a failure writing an exported report.
func ErrExport(path string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatInternal,
		Code:      CodeExportFailed,
		Message:   fmt.Sprintf("writing report to %s", path),
		Retryable: true,
		Cause:     cause,
		Details:   map[string]interface{}{"path": path},
	}
}

// ErrInvalidInput reports a malformed caller-supplied value.
func ErrInvalidInput(field, value string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     CodeInvalidInput,
		Message:  fmt.Sprintf("invalid %s %q", field, value),
		Details:  map[string]interface{}{"field": field, "value": value},
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// HasCode reports whether err is a DomainError carrying code.
func HasCode(err error, code string) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code == code
	}
	return false
}
