// Package errors defines the unified error taxonomy for the recommendation
// pipeline. Every failure crossing a component boundary is mapped to one of
// these types so the degradation policy can switch on error kind rather than
// on provider-specific strings.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error kinds. Category-scoped kinds degrade a single branch; only
// KindCatalogUnavailable fails the whole request.
const (
	KindInvalidQuery       = "invalid_query"
	KindGenerationTimeout  = "generation_timeout"
	KindGenerationFormat   = "generation_format"
	KindGenerationBackend  = "generation_backend"
	KindValidationTimeout  = "validation_timeout"
	KindValidationFormat   = "validation_format"
	KindCatalogUnavailable = "catalog_unavailable"
	KindCacheBackend       = "cache_backend"
)

// PipelineError is the standardized error carried across pipeline stages.
type PipelineError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	CategoryID string `json:"category_id,omitempty"`
	StatusCode int    `json:"status_code"`
	Retryable  bool   `json:"-"`
	cause      error
}

func (e *PipelineError) Error() string {
	if e.CategoryID != "" {
		return fmt.Sprintf("[%s] %s (category=%s)", e.Kind, e.Message, e.CategoryID)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *PipelineError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the status code the route layer should surface.
func (e *PipelineError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// NewInvalidQueryError creates a client error for malformed input (400).
func NewInvalidQueryError(message string) *PipelineError {
	return &PipelineError{
		Kind:       KindInvalidQuery,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

// NewGenerationTimeoutError marks a generation branch that exceeded its
// deadline. Scoped to a category; never fails the request.
func NewGenerationTimeoutError(categoryID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindGenerationTimeout,
		Message:    "candidate generation timed out",
		CategoryID: categoryID,
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		cause:      cause,
	}
}

// NewGenerationFormatError marks malformed generator output for a category.
func NewGenerationFormatError(categoryID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindGenerationFormat,
		Message:    "candidate generation returned malformed output",
		CategoryID: categoryID,
		StatusCode: http.StatusBadGateway,
		cause:      cause,
	}
}

// NewGenerationBackendError marks a generation backend that kept failing
// at the transport level before producing any output to parse.
func NewGenerationBackendError(cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindGenerationBackend,
		Message:    "candidate generation backend unavailable",
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		cause:      cause,
	}
}

// NewValidationTimeoutError marks a validation branch that exceeded its
// deadline. The branch degrades to unvalidated fuzzy matches.
func NewValidationTimeoutError(categoryID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindValidationTimeout,
		Message:    "relevance validation timed out",
		CategoryID: categoryID,
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		cause:      cause,
	}
}

// NewValidationFormatError marks malformed validator output for a category.
func NewValidationFormatError(categoryID string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindValidationFormat,
		Message:    "relevance validation returned malformed output",
		CategoryID: categoryID,
		StatusCode: http.StatusBadGateway,
		cause:      cause,
	}
}

// NewCatalogUnavailableError is the one fatal condition: nothing can be
// matched without the catalog, so the request fails as a server error.
func NewCatalogUnavailableError(cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindCatalogUnavailable,
		Message:    "catalog backend is unreachable",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		cause:      cause,
	}
}

// NewCacheBackendError wraps a cache backend failure. Callers log it and
// degrade to a miss or no-op; it must never surface to the client.
func NewCacheBackendError(op string, cause error) *PipelineError {
	return &PipelineError{
		Kind:       KindCacheBackend,
		Message:    fmt.Sprintf("cache backend %s failed", op),
		StatusCode: http.StatusInternalServerError,
		Retryable:  true,
		cause:      cause,
	}
}

// IsKind reports whether err is a PipelineError of the given kind.
func IsKind(err error, kind string) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// AsPipelineError extracts a PipelineError from an error chain, if any.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	ok := stderrors.As(err, &pe)
	return pe, ok
}
