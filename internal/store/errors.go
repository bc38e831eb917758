package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrVersionConflict is returned when an append's expected version does
	// not match the stream's currently committed version. The caller should
	// re-read current state and retry its business logic; nothing is written.
	ErrVersionConflict = errors.New("stream version conflict")

	// ErrNotFound is returned when an explicitly requested entity does not
	// exist in the store (e.g., a snapshot for a stream that has none).
	// An empty, version-0 stream is NOT an error and never produces this.
	ErrNotFound = errors.New("entity not found")

	// ErrSnapshotNotFound indicates that no snapshot exists for the requested stream.
	ErrSnapshotNotFound = fmt.Errorf("%w: snapshot", ErrNotFound)

	// ErrCursorNotFound indicates that no cursor is stored for the requested subscriber.
	ErrCursorNotFound = fmt.Errorf("%w: subscription cursor", ErrNotFound)

	// ErrValidation is returned for malformed input: an empty batch,
	// inconsistent stream identity, or an invalid payload. Non-retryable.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable is returned for transient infrastructure faults
	// (connection loss, timeouts). Retryable with backoff; the outcome of a
	// timed-out append is unknown until current state is re-read.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// VersionConflictError carries the expected and actual stream versions of a
// failed optimistic-concurrency check. It wraps ErrVersionConflict, so both
// errors.Is(err, ErrVersionConflict) and errors.As work.
type VersionConflictError struct {
	StreamID   string
	StreamType string
	Expected   int64
	Actual     int64
}

// Error implements the error interface for VersionConflictError.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf(
		"version conflict on stream %s/%s: expected %d, actual %d",
		e.StreamType,
		e.StreamID,
		e.Expected,
		e.Actual,
	)
}

// Unwrap makes VersionConflictError match ErrVersionConflict via errors.Is.
func (e *VersionConflictError) Unwrap() error {
	return ErrVersionConflict
}

// IsRetryable reports whether the error represents a condition the caller
// may retry: version conflicts (after re-reading state) and transient
// storage faults. Validation errors are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrStorageUnavailable)
}

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
