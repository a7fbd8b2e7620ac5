// Package errors defines the sentinel errors shared by the indexer and the
// query engine, the AppError carrier used at service boundaries, and the
// mapping from errors to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrIndexUnavailable = errors.New("search index unavailable")
	ErrPartialIndexing  = errors.New("partial indexing failure")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTimeout          = errors.New("operation timed out")
	ErrInternal         = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Unavailable reports that the index cannot serve queries yet. Callers should
// trigger or await an index build and retry.
func Unavailable(reason string) *AppError {
	return New(ErrIndexUnavailable, http.StatusServiceUnavailable, reason)
}

// IsRetryable reports whether the operation that produced err may succeed
// if repeated later without changing its input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIndexUnavailable) || errors.Is(err, ErrTimeout)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrPartialIndexing):
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}
