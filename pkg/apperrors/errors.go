// Package apperrors defines the domain error taxonomy shared across the
// generation and execution pipeline.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrLLMUnavailable indicates the LLM endpoint failed after bounded retries.
	ErrLLMUnavailable = errors.New("language model unavailable")

	// ErrGenerationInvalid indicates the model produced output that could not
	// be salvaged into a safe SQL statement.
	ErrGenerationInvalid = errors.New("could not generate a valid SQL query")

	// ErrExecutionTimeout indicates the query exceeded its wall-clock budget.
	// Distinct from ErrExecutionError so callers can suggest narrowing the query.
	ErrExecutionTimeout = errors.New("query execution timed out")

	// ErrExecutionError indicates any other failure from the target database.
	ErrExecutionError = errors.New("query execution failed")

	// ErrExportTooLarge indicates a result set exceeds the configured export
	// row cap. Exports are rejected rather than silently truncated.
	ErrExportTooLarge = errors.New("result set too large to export")
)

// GenerationError wraps ErrGenerationInvalid with user-facing guidance.
type GenerationError struct {
	Guidance string
}

func (e *GenerationError) Error() string {
	if e.Guidance == "" {
		return ErrGenerationInvalid.Error()
	}
	return fmt.Sprintf("%s: %s", ErrGenerationInvalid.Error(), e.Guidance)
}

func (e *GenerationError) Unwrap() error {
	return ErrGenerationInvalid
}

// NewGenerationError creates a generation failure carrying guidance text,
// typically example phrasings the user can try instead.
func NewGenerationError(guidance string) *GenerationError {
	return &GenerationError{Guidance: guidance}
}
