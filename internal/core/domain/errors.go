package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a sync is already running for a connector.
	// A connector's checkpoint is exclusively owned by its active session.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrProviderClosed indicates the provider has been closed.
	ErrProviderClosed = errors.New("provider closed")
)

// ErrorCategory classifies a sync failure for retry policy decisions.
// Policy is a pure function of the category; the orchestrator never
// inspects error messages.
type ErrorCategory string

const (
	// CategoryAuthentication indicates bad or expired credentials.
	// Not retryable: needs operator or credential fix.
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryRateLimit indicates the provider throttled the request.
	// Retryable after the provider-specified or default backoff.
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryDownload indicates a download or export failed.
	// Treated as transient unless repeated.
	CategoryDownload ErrorCategory = "download"

	// CategoryFileTooLarge indicates a file exceeds the size limit.
	// Not retryable, but only the file is skipped; the session continues.
	CategoryFileTooLarge ErrorCategory = "file_too_large"

	// CategoryPermissionFetch indicates an ACL lookup failed.
	// Retryable; on exhaustion the file falls back to EmptyAccess so a
	// document is never over-exposed.
	CategoryPermissionFetch ErrorCategory = "permission_fetch"

	// CategoryCheckpoint indicates corrupted or incompatible checkpoint
	// state. Not retryable; surfaces for manual repair.
	CategoryCheckpoint ErrorCategory = "checkpoint"

	// CategoryProviderNotFound indicates a misconfigured connector
	// referencing an unknown provider type. Not retryable.
	CategoryProviderNotFound ErrorCategory = "provider_not_found"

	// CategoryStorage indicates a transient storage or database write
	// failure. Retryable.
	CategoryStorage ErrorCategory = "storage"
)

// SyncError is a typed sync failure carrying enough structured context
// for the orchestrator to decide retry policy without string parsing.
type SyncError struct {
	// Category classifies the failure.
	Category ErrorCategory

	// Message is a human-readable description.
	Message string

	// RetryAfter is the provider-supplied backoff hint for rate limits.
	// Zero when the provider gave no hint.
	RetryAfter time.Duration

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this category of failure may be retried.
func (e *SyncError) Retryable() bool {
	switch e.Category {
	case CategoryRateLimit, CategoryDownload, CategoryPermissionFetch, CategoryStorage:
		return true
	default:
		return false
	}
}

// Fatal reports whether this failure aborts the whole session rather
// than skipping the affected item.
func (e *SyncError) Fatal() bool {
	switch e.Category {
	case CategoryAuthentication, CategoryCheckpoint, CategoryProviderNotFound:
		return true
	default:
		return false
	}
}

// NewAuthenticationError creates an authentication failure.
func NewAuthenticationError(msg string, cause error) *SyncError {
	return &SyncError{Category: CategoryAuthentication, Message: msg, Err: cause}
}

// NewRateLimitError creates a rate limit failure with an optional
// provider-supplied backoff hint.
func NewRateLimitError(msg string, retryAfter time.Duration, cause error) *SyncError {
	return &SyncError{Category: CategoryRateLimit, Message: msg, RetryAfter: retryAfter, Err: cause}
}

// NewDownloadError creates a download/export failure.
func NewDownloadError(msg string, cause error) *SyncError {
	return &SyncError{Category: CategoryDownload, Message: msg, Err: cause}
}

// NewFileTooLargeError creates a file-too-large failure for a single file.
func NewFileTooLargeError(name string, size, limit int64) *SyncError {
	return &SyncError{
		Category: CategoryFileTooLarge,
		Message:  fmt.Sprintf("%s is %d bytes, limit is %d", name, size, limit),
	}
}

// NewPermissionFetchError creates an ACL lookup failure.
func NewPermissionFetchError(msg string, cause error) *SyncError {
	return &SyncError{Category: CategoryPermissionFetch, Message: msg, Err: cause}
}

// NewCheckpointError creates a checkpoint corruption failure.
func NewCheckpointError(msg string, cause error) *SyncError {
	return &SyncError{Category: CategoryCheckpoint, Message: msg, Err: cause}
}

// NewProviderNotFoundError creates a misconfiguration failure for an
// unknown provider type.
func NewProviderNotFoundError(providerType string) *SyncError {
	return &SyncError{
		Category: CategoryProviderNotFound,
		Message:  fmt.Sprintf("unknown provider type %q", providerType),
	}
}

// NewStorageError creates a transient storage write failure.
func NewStorageError(msg string, cause error) *SyncError {
	return &SyncError{Category: CategoryStorage, Message: msg, Err: cause}
}

// CategoryOf extracts the error category from err's chain.
// Returns false if no SyncError is present.
func CategoryOf(err error) (ErrorCategory, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category, true
	}
	return "", false
}

// CategoryIs reports whether err carries the given category.
func CategoryIs(err error, category ErrorCategory) bool {
	got, ok := CategoryOf(err)
	return ok && got == category
}

// IsRetryable reports whether err is a retryable sync failure.
// Untyped errors are not retryable.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// IsFatal reports whether err aborts the whole sync session.
func IsFatal(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Fatal()
	}
	return false
}

// RetryAfterHint returns the provider-supplied backoff hint from err's
// chain, or zero if none is present.
func RetryAfterHint(err error) time.Duration {
	var se *SyncError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
