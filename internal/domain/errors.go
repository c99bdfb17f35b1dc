package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code and message,
// so wrapped instances still match the package sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrap returns a copy of sentinel carrying err as its cause.
func Wrap(sentinel *DomainError, err error) *DomainError {
	return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, err)
}

// Wrapf is Wrap with a formatted context message prepended to the cause.
func Wrapf(sentinel *DomainError, err error, format string, args ...any) *DomainError {
	ctx := fmt.Sprintf(format, args...)
	if err == nil {
		return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, errors.New(ctx))
	}
	return NewDomainErrorWithCause(sentinel.Code, sentinel.Message, fmt.Errorf("%s: %w", ctx, err))
}

// CodeOf returns the code of the first DomainError in err's chain, or "".
// An INGESTION_FAILED error reports the code of a dimension mismatch or
// upstream outage beneath it instead, since those are not faults of the
// document.
func CodeOf(err error) string {
	var de *DomainError
	if !errors.As(err, &de) {
		return ""
	}
	if de.Code != ErrCodeIngestionFailed {
		return de.Code
	}
	for cause := de.Err; cause != nil; cause = errors.Unwrap(cause) {
		inner, ok := cause.(*DomainError)
		if !ok {
			continue
		}
		switch inner.Code {
		case ErrCodeDimensionMismatch, ErrCodeUpstreamUnavailable:
			return inner.Code
		}
	}
	return de.Code
}

// Common domain error codes
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeDimensionMismatch   = "DIMENSION_MISMATCH"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeIngestionFailed     = "INGESTION_FAILED"
	ErrCodeExtractionFailed    = "EXTRACTION_FAILED"
)

// Validation errors
var (
	ErrSegmentationInputInvalid = NewDomainError(ErrCodeValidation, "segmentation input is not valid text")
	ErrMissingRequiredField     = NewDomainError(ErrCodeValidation, "missing required field")
	ErrUnsupportedDocument      = NewDomainError(ErrCodeValidation, "unsupported document type")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Index errors
var (
	ErrDimensionMismatch = NewDomainError(ErrCodeDimensionMismatch, "embedding dimension does not match index")
)

// Collaborator errors
var (
	ErrEmbeddingProviderUnavailable = NewDomainError(ErrCodeUpstreamUnavailable, "embedding provider unavailable")
	ErrQueryEmbeddingFailed         = NewDomainError(ErrCodeUpstreamUnavailable, "query embedding failed")
	ErrGenerationFailed             = NewDomainError(ErrCodeUpstreamUnavailable, "answer generation failed")
	ErrIngestionFailed              = NewDomainError(ErrCodeIngestionFailed, "document ingestion failed")
	ErrExtractionFailed             = NewDomainError(ErrCodeExtractionFailed, "document text extraction failed")
	ErrStorageOperationFail         = NewDomainError(ErrCodeInternalError, "storage operation failed")
)
