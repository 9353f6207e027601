package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeTransport represents network and HTTP failures
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeManifest represents empty or unparsable segment manifests
	ErrTypeManifest ErrorType = "manifest"
	// ErrTypeDecryption represents bad tokens or undecryptable payloads
	ErrTypeDecryption ErrorType = "decryption"
	// ErrTypeRemux represents container conversion failures
	ErrTypeRemux ErrorType = "remux"
	// ErrTypePath represents invalid or unwritable destinations
	ErrTypePath ErrorType = "path"
	// ErrTypeProvider represents catalog lookups that failed at the provider
	ErrTypeProvider ErrorType = "provider"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	Cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a retryable transport error.
func NewTransportError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeTransport,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewHTTPStatusError creates a transport error from an unexpected response
// status. Only 5xx and 429 are worth another attempt.
func NewHTTPStatusError(url string, statusCode int) *AppError {
	return &AppError{
		Type:       ErrTypeTransport,
		Message:    fmt.Sprintf("unexpected status %d for %s", statusCode, url),
		StatusCode: statusCode,
		Retryable:  statusCode >= 500 || statusCode == http.StatusTooManyRequests,
	}
}

// NewManifestError creates a new manifest error
func NewManifestError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeManifest,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewDecryptionError creates a new decryption error
func NewDecryptionError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeDecryption,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewRemuxError creates a new remux error
func NewRemuxError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeRemux,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewPathError creates a new path error
func NewPathError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypePath,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewProviderError creates a new provider error
func NewProviderError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeProvider,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the kind of the first AppError in err's chain.
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	return GetErrorType(err) == ErrTypeTransport
}

// IsManifestError checks if an error is a manifest error
func IsManifestError(err error) bool {
	return GetErrorType(err) == ErrTypeManifest
}

// IsDecryptionError checks if an error is a decryption error
func IsDecryptionError(err error) bool {
	return GetErrorType(err) == ErrTypeDecryption
}

// IsRemuxError checks if an error is a remux error
func IsRemuxError(err error) bool {
	return GetErrorType(err) == ErrTypeRemux
}

// IsPathError checks if an error is a path error
func IsPathError(err error) bool {
	return GetErrorType(err) == ErrTypePath
}
