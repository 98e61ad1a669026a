package domain

import (
	"errors"
	"fmt"
)

// Error codes for failure responses surfaced to the API layer.
const (
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeModelUnavailable     = "MODEL_UNAVAILABLE"
	ErrCodeInsufficientEvidence = "INSUFFICIENT_EVIDENCE"
	ErrCodePipelineFailure      = "PIPELINE_FAILURE"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeRateLimit            = "RATE_LIMIT_EXCEEDED"
)

// ErrNotFound marks a lookup for an entity that does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientEvidence is returned when no valid modality signal remains
// for a request. It is surfaced to the caller and never retried by this core.
var ErrInsufficientEvidence = errors.New("insufficient evidence: no valid modality signals")

// ErrModalityTimeout marks a per-modality scorer call that exceeded its
// bounded timeout. It is absorbed as a missing-modality case and only
// escalates when every modality times out.
var ErrModalityTimeout = errors.New("modality scorer call timed out")

// ModelUnavailableError is fatal: the underlying scorer for a modality is
// unreachable or uninitialized. It is surfaced immediately, not retried.
type ModelUnavailableError struct {
	Modality Modality
	Cause    error
}

// Error implements the error interface.
func (e *ModelUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s scorer unavailable: %v", e.Modality, e.Cause)
	}
	return fmt.Sprintf("%s scorer unavailable", e.Modality)
}

// Unwrap exposes the underlying transport error.
func (e *ModelUnavailableError) Unwrap() error {
	return e.Cause
}

// PipelineError is a stage-level contract violation. The caller receives the
// failure kind and the stage at which it occurred, never a partial report.
type PipelineError struct {
	Stage   PipelineStage
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %s: %s", e.Stage, e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError wraps a stage failure with its stage and code.
func NewPipelineError(stage PipelineStage, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// FailureStage extracts the pipeline stage from an error chain, or
// StageFailed when the error carries no stage information.
func FailureStage(err error) PipelineStage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return StageFailed
}

// FailureCode maps an error chain onto the failure taxonomy for API responses.
func FailureCode(err error) string {
	var pe *PipelineError
	switch {
	case errors.Is(err, ErrInsufficientEvidence):
		return ErrCodeInsufficientEvidence
	case isModelUnavailable(err):
		return ErrCodeModelUnavailable
	case errors.As(err, &pe):
		return pe.Code
	default:
		return ErrCodePipelineFailure
	}
}

func isModelUnavailable(err error) bool {
	var mu *ModelUnavailableError
	return errors.As(err, &mu)
}

// ValidationError represents input validation errors on the API surface.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
