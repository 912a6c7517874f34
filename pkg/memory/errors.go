package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexUnavailable marks a vector index client that gave up
	// initializing and degraded to no-op mode
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrIndexWrite marks a failed index upsert batch
	ErrIndexWrite = errors.New("vector index write failed")

	// ErrIndexQuery marks a failed index query
	ErrIndexQuery = errors.New("vector index query failed")

	// ErrIndexDelete marks a failed index delete
	ErrIndexDelete = errors.New("vector index delete failed")
)

// ProviderError reports an embedding provider failure: transport error,
// non-2xx status, wrong dimension, or an all-zero vector from the provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding provider %s failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err is (or wraps) a ProviderError
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
