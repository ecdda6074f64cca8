package embeddings

import "errors"

// Sentinel errors for embedding operations. The syncer keys its
// per-file vs whole-run failure handling off this classification.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRateLimited indicates the embedding service rejected the
	// request with a rate-limit signal. Retryable.
	ErrRateLimited = errors.New("embedding service rate limited")

	// ErrTransient indicates a temporary network or server failure.
	// Retryable.
	ErrTransient = errors.New("transient embedding failure")

	// ErrRetryExhausted indicates the retry budget ran out. The caller
	// treats this as a per-file failure, not a whole-run failure.
	ErrRetryExhausted = errors.New("embedding retries exhausted")

	// ErrDimensionMismatch indicates the service returned vectors of an
	// unexpected dimensionality. This is a fatal configuration error
	// (incompatible model swap), never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCountMismatch indicates the service returned a different
	// number of vectors than texts sent. Treated as a per-file data
	// error, never silently truncated.
	ErrCountMismatch = errors.New("embedding count mismatch")
)

// IsRetryable reports whether an error may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// IsFatal reports whether an error must abort the whole run rather than
// fail a single file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrInvalidConfig)
}
