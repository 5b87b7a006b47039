package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a malformed request rejected at the boundary.
	ErrValidation = errors.New("validation error")

	// ErrInvalidConfiguration indicates inconsistent component settings.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Ingestion Errors.

	// ErrUnsupportedFormat indicates a file type outside pdf, docx, txt and md.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrExtractionFailure indicates corrupt or unreadable file content.
	ErrExtractionFailure = errors.New("extraction failure")

	// Provider Errors.

	// ErrEmbeddingProvider indicates the embedding provider failed.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrGeneration indicates the answer generator failed.
	ErrGeneration = errors.New("generation error")

	// ErrTransient marks a provider failure worth retrying
	// (network errors, rate limits, server errors).
	ErrTransient = errors.New("transient provider failure")

	// Query Errors.

	// ErrRetrieval indicates the vector index is unavailable or corrupted.
	ErrRetrieval = errors.New("retrieval error")

	// ErrMissingInputs indicates a calculation lacks required inputs.
	ErrMissingInputs = errors.New("missing inputs")

	// ErrInvalidInputs indicates calculation inputs are out of range.
	ErrInvalidInputs = errors.New("invalid inputs")

	// ErrComplianceViolation indicates a drafted answer failed compliance.
	ErrComplianceViolation = errors.New("compliance violation")

	// ErrSessionExpired indicates a session outlived its inactivity timeout.
	ErrSessionExpired = errors.New("session expired")
)

// ErrorCode is the machine-readable code carried by pipeline errors.
type ErrorCode string

// Error codes surfaced to callers.
const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeUnsupportedFormat   ErrorCode = "UNSUPPORTED_FORMAT"
	CodeExtractionFailure   ErrorCode = "EXTRACTION_FAILURE"
	CodeEmbeddingProvider   ErrorCode = "EMBEDDING_PROVIDER_ERROR"
	CodeRetrieval           ErrorCode = "RETRIEVAL_ERROR"
	CodeMissingInputs       ErrorCode = "MISSING_INPUTS"
	CodeInvalidInputs       ErrorCode = "INVALID_INPUTS"
	CodeComplianceViolation ErrorCode = "COMPLIANCE_VIOLATION"
	CodeGeneration          ErrorCode = "GENERATION_ERROR"
	CodeSession             ErrorCode = "SESSION_ERROR"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeCancelled           ErrorCode = "CANCELLED"
	CodeInternal            ErrorCode = "INTERNAL"
)

// CodeFor maps an error chain to its ErrorCode.
// The most specific sentinel wins; unknown errors map to CodeInternal.
func CodeFor(err error) ErrorCode {
	var pe *PipelineError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnsupportedFormat):
		return CodeUnsupportedFormat
	case errors.Is(err, ErrExtractionFailure):
		return CodeExtractionFailure
	case errors.Is(err, ErrEmbeddingProvider):
		return CodeEmbeddingProvider
	case errors.Is(err, ErrRetrieval):
		return CodeRetrieval
	case errors.Is(err, ErrMissingInputs):
		return CodeMissingInputs
	case errors.Is(err, ErrInvalidInputs):
		return CodeInvalidInputs
	case errors.Is(err, ErrComplianceViolation):
		return CodeComplianceViolation
	case errors.Is(err, ErrGeneration):
		return CodeGeneration
	case errors.Is(err, ErrSessionExpired):
		return CodeSession
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// PipelineError is an error that reached the caller of a query.
// It records the stage it happened in.
type PipelineError struct {
	Step    Stage     `json:"step"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// NewPipelineError wraps err as a failure of the given stage.
func NewPipelineError(step Stage, err error) *PipelineError {
	return &PipelineError{
		Step:    step,
		Code:    CodeFor(err),
		Message: err.Error(),
		Err:     err,
	}
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Step, e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the structured result of a request validation pass.
type ValidationErrors []ValidationError

// Add appends a field error.
func (v *ValidationErrors) Add(field, format string, args ...any) {
	*v = append(*v, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Err returns nil when no field failed, else the list itself.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Field + ": " + e.Message
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(v, ErrValidation) hold.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// CalculationError reports unusable calculation inputs.
// Err is ErrMissingInputs or ErrInvalidInputs.
type CalculationError struct {
	Err    error
	Fields []string
	Reason string
}

func (e *CalculationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Err, strings.Join(e.Fields, ", "))
}

func (e *CalculationError) Unwrap() error {
	return e.Err
}
