package clustering

import (
	"errors"

	"github.com/kozaktomas/facesnap/internal/embedding"
)

var (
	// ErrDimensionMismatch is returned when an embedding (query or stored
	// centroid) does not have the configured dimensionality.
	ErrDimensionMismatch = embedding.ErrDimensionMismatch

	// ErrInvalidEmbedding is returned for embeddings with NaN or infinite components.
	ErrInvalidEmbedding = embedding.ErrNotFinite

	// ErrInvalidEvent is returned for an empty event ID.
	ErrInvalidEvent = errors.New("event id is required")

	// ErrNoCandidates is returned by Verify when the event has no clusters.
	ErrNoCandidates = errors.New("event has no clusters")

	// ErrNoSufficientMatch is returned by Verify when every cluster is at or
	// beyond the similarity threshold.
	ErrNoSufficientMatch = errors.New("no sufficiently close cluster")

	// ErrContention is returned by Assign when concurrent writers kept
	// invalidating its snapshot. The call can be retried.
	ErrContention = errors.New("too many concurrent modifications")
)

// StoreError wraps a persistence failure. It is never turned into a
// "no match" or "new cluster" outcome.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Retryable reports that the operation may succeed when repeated.
func (e *StoreError) Retryable() bool {
	return true
}

// IsRetryable reports whether err is a transient infrastructure failure
// rather than a business outcome.
func IsRetryable(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Retryable()
	}
	return errors.Is(err, ErrContention)
}
