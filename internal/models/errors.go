package models

import "errors"

// Error kinds shared across the engine. Callers classify failures with
// errors.Is; packages wrap these with fmt.Errorf("...: %w", ...) to add
// context without losing the kind.
var (
	// ErrConfiguration marks invalid configuration (bad chunk/overlap sizes,
	// dimension mismatch). Rejected synchronously, never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidInput marks input the provider or engine permanently rejects
	// (empty query, text too long). Surfaced immediately, not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProviderUnavailable marks a transient remote failure (timeout,
	// connection refused, 5xx) after the retry policy is exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrRateLimited marks a provider rate-limit rejection. Retried per
	// policy; surfaced when attempts are exhausted.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrContentRejected marks a completion refused by the provider's
	// content policy. Not retried.
	ErrContentRejected = errors.New("content rejected by provider")

	// ErrNotFound marks an unknown document or chunk. Deletes treat it as
	// success (idempotent delete).
	ErrNotFound = errors.New("not found")

	// ErrIndexCorrupt marks a persisted vector index that fails to load or
	// validate. Fatal at startup; the index must be rebuilt from storage.
	ErrIndexCorrupt = errors.New("vector index corrupt")
)
