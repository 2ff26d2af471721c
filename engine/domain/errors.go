package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every failure in the core wraps exactly one of these so
// callers can classify it with errors.Is.
var (
	ErrExtraction       = errors.New("pdf extraction failed")
	ErrEmbedding        = errors.New("embedding service failed")
	ErrIndex            = errors.New("vector index failed")
	ErrEvidence         = errors.New("evidence image unavailable")
	ErrFallbackProvider = errors.New("web search failed")
	ErrInvalidUpload    = errors.New("invalid upload")
	ErrQueryTooLong     = errors.New("query too long")
	ErrEmptyQuery       = errors.New("query is empty")
	ErrUnsupportedFile  = errors.New("file type not allowed")
	ErrFileTooLarge     = errors.New("file too large")
	ErrEmptyFile        = errors.New("file is empty")
)

// StageError records which pipeline stage failed and on what.
type StageError struct {
	Stage   string
	Subject string
	Wrapped error
}

func (e *StageError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Wrapped)
	}
	return fmt.Sprintf("%s %s: %s", e.Stage, e.Subject, e.Wrapped)
}

func (e *StageError) Unwrap() error { return e.Wrapped }

// NewStageError creates a StageError.
func NewStageError(stage, subject string, wrapped error) *StageError {
	return &StageError{Stage: stage, Subject: subject, Wrapped: wrapped}
}

// ValidationError wraps a sentinel with the offending field.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
