// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"context"
	"errors"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed input rejected before storage.
	ErrValidation = errors.New("validation")
)

// Sync engine taxonomy.
var (
	// ErrNetwork means the mirror or drive could not be reached or timed out. Retryable.
	ErrNetwork = errors.New("network error")

	// ErrAuth means the credential or drive grant is invalid. Needs re-authentication.
	ErrAuth = errors.New("auth error")

	// ErrDecryption means an envelope is malformed or sealed with another key.
	ErrDecryption = errors.New("decryption error")

	// ErrConflictAmbiguity marks equal updatedAt timestamps; resolved by tie-break, never returned to callers.
	ErrConflictAmbiguity = errors.New("conflict resolution ambiguity")

	// ErrMalformedSnapshot means the durable file could not be parsed.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrSyncInProgress is returned when a run is requested while another is in flight.
	ErrSyncInProgress = errors.New("sync in progress")
)

// IsRetryable reports whether err is transient and worth retrying with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrMalformedSnapshot) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded)
}
