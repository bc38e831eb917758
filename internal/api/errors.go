package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/grimoire/internal/store"
	"github.com/phrazzld/grimoire/internal/subscription"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict

	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, subscription.ErrSubscriptionBroken):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return "Stream version conflict"

	case errors.Is(err, store.ErrSnapshotNotFound):
		return "Snapshot not found"

	case errors.Is(err, store.ErrCursorNotFound):
		return "Subscription cursor not found"

	case errors.Is(err, store.ErrNotFound):
		return "Not found"

	case errors.Is(err, store.ErrValidation):
		return "Invalid request data"

	case errors.Is(err, store.ErrStorageUnavailable):
		return "Storage temporarily unavailable"

	case errors.Is(err, subscription.ErrSubscriptionBroken):
		return "Subscription interrupted, resume from last position"

	default:
		return "An unexpected error occurred"
	}
}
