// Package errors defines the error taxonomy of the asset pipeline.
//
// Every failure surfaced by the pipeline is a *PipelineError carrying its
// category (config, resolution, transform, optimization, io, internal), a
// stable code and the file, transform or chunk it concerns. Callers branch on
// the category with the Is* helpers instead of string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeResolution   ErrorType = "resolution"
	ErrorTypeTransform    ErrorType = "transform"
	ErrorTypeOptimization ErrorType = "optimization"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeInternal     ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeInvalidPattern    = "ERR_INVALID_PATTERN"
	ErrCodeRuleConflict      = "ERR_RULE_CONFLICT"
	ErrCodeOutputOverlap     = "ERR_OUTPUT_OVERLAP"
	ErrCodeUnknownTransform  = "ERR_UNKNOWN_TRANSFORM"
	ErrCodeEntryNotFound     = "ERR_ENTRY_NOT_FOUND"
	ErrCodeUnresolvable      = "ERR_UNRESOLVABLE_IMPORT"
	ErrCodeTransformFailed   = "ERR_TRANSFORM_FAILED"
	ErrCodeTransformTimeout  = "ERR_TRANSFORM_TIMEOUT"
	ErrCodeOptimizeFailed    = "ERR_OPTIMIZE_FAILED"
	ErrCodeWriteFailed       = "ERR_WRITE_FAILED"
	ErrCodeReadFailed        = "ERR_READ_FAILED"
	ErrCodeCommandNotAllowed = "ERR_COMMAND_NOT_ALLOWED"
	ErrCodeInternalError     = "ERR_INTERNAL"
)

// PipelineError is a structured error type with context.
type PipelineError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Path      string
	Transform string
	Chunk     string
	Line      int
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Transform != "" {
		parts = append(parts, "transform:"+e.Transform)
	}

	if e.Chunk != "" {
		parts = append(parts, "chunk:"+e.Chunk)
	}

	if e.Path != "" {
		location := e.Path
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithPath adds file location information.
func (e *PipelineError) WithPath(path string) *PipelineError {
	e.Path = path

	return e
}

// WithCause sets the underlying error.
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause

	return e
}

// WithLine adds a line number to the location.
func (e *PipelineError) WithLine(line int) *PipelineError {
	e.Line = line

	return e
}

// Fatal reports whether the error must abort a one-shot build as a whole.
// Optimization errors only fail the chunk they belong to.
func (e *PipelineError) Fatal() bool {
	return e.Type != ErrorTypeOptimization
}

// NewConfigError creates a configuration error. Config errors are reported
// before any build work starts.
func NewConfigError(code, message string) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewResolutionError creates an error for an import that cannot be located.
func NewResolutionError(importer, specifier string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeResolution,
		Code:    ErrCodeUnresolvable,
		Message: fmt.Sprintf("cannot resolve %q", specifier),
		Cause:   cause,
		Path:    importer,
	}
}

// NewTransformError creates an error for a transform that failed on a module.
func NewTransformError(transform, path string, cause error) *PipelineError {
	return &PipelineError{
		Type:      ErrorTypeTransform,
		Code:      ErrCodeTransformFailed,
		Message:   "transform failed",
		Cause:     cause,
		Path:      path,
		Transform: transform,
	}
}

// NewOptimizationError creates an error scoped to a single chunk.
func NewOptimizationError(chunk, file string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeOptimization,
		Code:    ErrCodeOptimizeFailed,
		Message: "optimization failed",
		Cause:   cause,
		Path:    file,
		Chunk:   chunk,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, path string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: "i/o failure",
		Cause:   cause,
		Path:    path,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

func isType(err error, t ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == t
	}

	return false
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool { return isType(err, ErrorTypeConfig) }

// IsResolutionError checks if an error is a resolution error.
func IsResolutionError(err error) bool { return isType(err, ErrorTypeResolution) }

// IsTransformError checks if an error is a transform error.
func IsTransformError(err error) bool { return isType(err, ErrorTypeTransform) }

// IsOptimizationError checks if an error is an optimization error.
func IsOptimizationError(err error) bool { return isType(err, ErrorTypeOptimization) }

// AsPipelineError extracts the first PipelineError in err's chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}
